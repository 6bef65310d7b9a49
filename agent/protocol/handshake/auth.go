package handshake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/BaSui01/swarmhandoff/config"
)

// =============================================================================
// Authentication
// =============================================================================

// Authenticator 应答方在版本检查之后执行的认证步骤
type Authenticator interface {
	Authenticate(ctx context.Context, req Request) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, req Request) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, req Request) error { return f(ctx, req) }

// AllowAll 默认认证器：总是通过
var AllowAll Authenticator = AuthenticatorFunc(func(context.Context, Request) error { return nil })

// TokenIssuer 发起方为请求签发凭证
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// JWTAuthenticator validates HS256 tokens whose subject must equal the
// requesting agent id. It also issues such tokens for the initiator side.
type JWTAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewJWTAuthenticator builds an authenticator from the agent auth config.
func NewJWTAuthenticator(cfg config.AuthConfig) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt authenticator: secret is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JWTAuthenticator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs a token for subject.
func (a *JWTAuthenticator) Issue(subject string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign handshake token: %w", err)
	}
	return signed, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(_ context.Context, req Request) error {
	if req.Token == "" {
		return fmt.Errorf("missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(req.Token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject != req.SourceAgentID {
		return fmt.Errorf("token subject %q does not match agent %q", claims.Subject, req.SourceAgentID)
	}
	return nil
}

// =============================================================================
// Capability exchange
// =============================================================================

// CapabilityNegotiator 决定会话最终的能力列表
type CapabilityNegotiator interface {
	Negotiate(requested []string) []string
}

// NegotiatorFunc adapts a function to CapabilityNegotiator.
type NegotiatorFunc func(requested []string) []string

func (f NegotiatorFunc) Negotiate(requested []string) []string { return f(requested) }

// Echo 默认协商：原样返回请求的能力
var Echo CapabilityNegotiator = NegotiatorFunc(func(requested []string) []string {
	return append([]string(nil), requested...)
})

// Intersect keeps the requested capabilities the local agent also has,
// in request order, compared case-insensitively.
func Intersect(local []string) CapabilityNegotiator {
	have := make(map[string]struct{}, len(local))
	for _, c := range local {
		have[strings.ToLower(c)] = struct{}{}
	}
	return NegotiatorFunc(func(requested []string) []string {
		out := make([]string, 0, len(requested))
		for _, c := range requested {
			if _, ok := have[strings.ToLower(c)]; ok {
				out = append(out, c)
			}
		}
		return out
	})
}
