package server

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Keksclan/onion/breaker"
	"github.com/Keksclan/onion/interceptors"
	"github.com/Keksclan/onion/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-envconfig"
	"sigs.k8s.io/yaml"
)

// EnvConfig is the server configuration read from ONION_* environment
// variables. Zero values leave the corresponding feature off.
type EnvConfig struct {
	Addr        string `env:"ONION_ADDR, default=:50051"`
	MetricsAddr string `env:"ONION_METRICS_ADDR"`

	Recovery  bool `env:"ONION_RECOVERY, default=true"`
	RequestID bool `env:"ONION_REQUEST_ID, default=true"`
	Logging   bool `env:"ONION_LOGGING, default=true"`
	Metrics   bool `env:"ONION_METRICS"`

	RateLimitRPS   float64 `env:"ONION_RATELIMIT_RPS"`
	RateLimitBurst int     `env:"ONION_RATELIMIT_BURST"`

	Timeout time.Duration `env:"ONION_TIMEOUT"`

	BreakerThreshold   int           `env:"ONION_BREAKER_THRESHOLD"`
	BreakerOpenTimeout time.Duration `env:"ONION_BREAKER_OPEN_TIMEOUT, default=30s"`
	BreakerProbes      int           `env:"ONION_BREAKER_PROBES, default=1"`

	CacheL1Entries int64  `env:"ONION_CACHE_L1_ENTRIES"`
	CacheCompress  bool   `env:"ONION_CACHE_COMPRESS"`
	RedisAddr      string `env:"ONION_REDIS_ADDR"`
	RedisPassword  string `env:"ONION_REDIS_PASSWORD"`
	RedisDB        int    `env:"ONION_REDIS_DB"`
	RedisPrefix    string `env:"ONION_REDIS_PREFIX, default=onion:"`

	IPAllow        []string `env:"ONION_IP_ALLOW"`
	IPDeny         []string `env:"ONION_IP_DENY"`
	TrustedProxies []string `env:"ONION_TRUSTED_PROXIES"`

	// JWTSecret enables HS256 bearer-token authentication for every call.
	JWTSecret string `env:"ONION_JWT_SECRET"`
}

// LoadEnv reads EnvConfig from the process environment.
func LoadEnv(ctx context.Context) (*EnvConfig, error) {
	return loadEnv(ctx, envconfig.OsLookuper())
}

// LoadConfig reads EnvConfig from the YAML file at path, keyed by the same
// ONION_* names, with environment variables taking precedence over the
// file. An empty path reads the environment only.
func LoadConfig(ctx context.Context, path string) (*EnvConfig, error) {
	if path == "" {
		return LoadEnv(ctx)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: read config: %w", err)
	}
	file, err := fileLookuper(data)
	if err != nil {
		return nil, fmt.Errorf("server: parse config %s: %w", path, err)
	}
	return loadEnv(ctx, envconfig.MultiLookuper(envconfig.OsLookuper(), file))
}

// fileLookuper flattens a YAML mapping of ONION_* keys into the string form
// envconfig parses. Sequences become comma separated lists.
func fileLookuper(data []byte) (envconfig.Lookuper, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(raw))
	for k, v := range raw {
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = scalar(item)
			}
			flat[k] = strings.Join(parts, ",")
			continue
		}
		flat[k] = scalar(v)
	}
	return envconfig.MapLookuper(flat), nil
}

func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func loadEnv(ctx context.Context, l envconfig.Lookuper) (*EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("server: load env: %w", err)
	}
	return &cfg, nil
}

// Options turns the configuration into server options.
func (c *EnvConfig) Options() ([]Option, error) {
	var opts []Option
	if c.Recovery {
		opts = append(opts, WithRecovery())
	}
	if c.RequestID {
		opts = append(opts, WithRequestID())
	}
	if c.Logging {
		opts = append(opts, WithLogging())
	}
	if c.Metrics {
		opts = append(opts, WithMetrics(prometheus.NewRegistry()))
	}
	if c.RateLimitRPS > 0 {
		burst := c.RateLimitBurst
		if burst <= 0 {
			burst = max(int(c.RateLimitRPS), 1)
		}
		opts = append(opts, WithRateLimitGlobal(c.RateLimitRPS, burst))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	if c.BreakerThreshold > 0 {
		opts = append(opts, WithBreaker(breaker.Config{
			FailureThreshold:   c.BreakerThreshold,
			OpenTimeout:        c.BreakerOpenTimeout,
			HalfOpenMaxSuccess: c.BreakerProbes,
		}))
	}
	if c.CacheL1Entries > 0 {
		opts = append(opts, WithCacheL1(c.CacheL1Entries))
	}
	if c.RedisAddr != "" {
		opts = append(opts, WithCacheL2(c.RedisAddr, c.RedisPassword, c.RedisDB, c.RedisPrefix))
	}
	if c.CacheCompress {
		opts = append(opts, WithCacheCompression())
	}

	if c.JWTSecret != "" {
		secret := []byte(c.JWTSecret)
		opts = append(opts, WithAuth(interceptors.BearerJWT(
			func(*jwt.Token) (any, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)))
	}

	if len(c.IPAllow) > 0 && len(c.IPDeny) > 0 {
		return nil, fmt.Errorf("server: ONION_IP_ALLOW and ONION_IP_DENY are mutually exclusive")
	}
	if len(c.IPAllow) > 0 || len(c.IPDeny) > 0 {
		fc := security.Config{Mode: security.AllowList, CIDRs: c.IPAllow, TrustedProxies: c.TrustedProxies}
		if len(c.IPDeny) > 0 {
			fc.Mode, fc.CIDRs = security.DenyList, c.IPDeny
		}
		f, err := security.NewFilter(fc)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithIPFilter(f))
	}
	return opts, nil
}
