package interceptors

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/cache"
	"github.com/Keksclan/onion/contextx"
	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

var errOtherRequest = errors.New("interceptors: cached response belongs to another request")

// Cache returns a unary middleware that memoizes protobuf responses of the
// listed methods for ttl. methods maps a full method name to a constructor
// of its empty response message. The key covers the method, a hash of the
// deterministic encoding of the request and the authenticated subject, so
// responses never cross identities. Entries carry the encoded request and
// are only served to an identical one. Calls of other methods, or with a
// non-protobuf request, pass through.
func Cache(c cache.Cache, ttl time.Duration, methods map[string]func() proto.Message) UnaryMiddleware {
	return func(call *UnaryCall, next onion.Next[any]) (any, error) {
		newResp, ok := methods[call.FullMethod()]
		if !ok {
			return next()
		}
		req, ok := requestBytes(call)
		if !ok {
			return next()
		}

		key := requestKey(call, req)
		memo := cache.Memoize[*UnaryCall, any](c, func(*UnaryCall) (string, bool) { return key, true },
			responseCodec{new: newResp, req: req}, ttl)
		return memo(call, next)
	}
}

var deterministic = proto.MarshalOptions{Deterministic: true}

func requestBytes(call *UnaryCall) ([]byte, bool) {
	msg, ok := call.Req.(proto.Message)
	if !ok {
		return nil, false
	}
	b, err := deterministic.Marshal(msg)
	if err != nil {
		return nil, false
	}
	return b, true
}

func requestKey(call *UnaryCall, req []byte) string {
	var subject string
	if a, ok := contextx.ActorFromContext(call.Context()); ok {
		subject = a.Subject
	}
	return call.FullMethod() + "|" + subject + "|" + strconv.FormatUint(xxhash.Sum64(req), 16)
}

// responseCodec stores handler responses in protobuf wire format, prefixed
// with the length-delimited request they answer.
type responseCodec struct {
	new func() proto.Message
	req []byte
}

func (c responseCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("interceptors: cannot cache %T", v)
	}
	b := protowire.AppendBytes(nil, c.req)
	return deterministic.MarshalAppend(b, msg)
}

func (c responseCodec) Decode(b []byte) (any, error) {
	req, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	if !bytes.Equal(req, c.req) {
		return nil, errOtherRequest
	}
	msg := c.new()
	if err := proto.Unmarshal(b[n:], msg); err != nil {
		return nil, err
	}
	return msg, nil
}
