package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Keksclan/onion/contextx"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

const maxClockSkew = 30 * time.Second

var errMissingBearer = errors.New("missing or malformed authorization metadata")

// actorClaims are the JWT claims mapped onto a contextx.Actor.
type actorClaims struct {
	jwt.RegisteredClaims
	Tenant   string `json:"tenant,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// BearerJWT returns an AuthFunc that validates the bearer token carried in
// the "authorization" metadata. keyFunc supplies the verification key; opts
// should at least restrict the accepted signing methods. The subject,
// tenant, client_id and space separated scope claims become the Actor.
func BearerJWT(keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) AuthFunc {
	opts = append([]jwt.ParserOption{jwt.WithLeeway(maxClockSkew)}, opts...)
	return func(ctx context.Context, _ string, md metadata.MD) (context.Context, error) {
		raw, ok := bearerToken(md)
		if !ok {
			return nil, errMissingBearer
		}

		var claims actorClaims
		if _, err := jwt.ParseWithClaims(raw, &claims, keyFunc, opts...); err != nil {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
		if claims.Subject == "" {
			return nil, errors.New("invalid token: no subject")
		}

		return contextx.WithActor(ctx, contextx.Actor{
			Subject:  claims.Subject,
			Tenant:   claims.Tenant,
			ClientID: claims.ClientID,
			Scopes:   strings.Fields(claims.Scope),
		}), nil
	}
}

func bearerToken(md metadata.MD) (string, bool) {
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", false
	}
	scheme, token, ok := strings.Cut(vals[0], " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
