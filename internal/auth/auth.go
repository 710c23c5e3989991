// Package auth issues and verifies HS256 bearer tokens and carries the
// authenticated principal through request contexts.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/corpaction-cli/internal/model"
)

var (
	// ErrInvalidToken signals a malformed, expired or wrongly signed token.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrForbidden signals a principal whose role is too low for an operation.
	ErrForbidden = errors.New("auth: forbidden")
)

// SystemActor is the principal recorded when no user is attached to a context.
const SystemActor = "system"

// Principal is an authenticated caller.
type Principal struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// Claims are the JWT claims issued by the service.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens. A Service with an empty secret is
// disabled: it verifies nothing and every request acts as an admin.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether tokens are required.
func (s *Service) Enabled() bool { return len(s.secret) > 0 }

// Issue returns a signed token for email with role.
func (s *Service) Issue(email string, role model.Role) (string, error) {
	if !s.Enabled() {
		return "", eris.New("auth: no jwt secret configured")
	}
	if strings.TrimSpace(email) == "" {
		return "", eris.New("auth: email is required")
	}
	if role.Level() == 0 {
		return "", eris.Errorf("auth: invalid role %q", role)
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    "corpaction",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", eris.Wrap(err, "auth: sign token")
	}
	return signed, nil
}

// Verify parses a token and returns its principal.
func (s *Service) Verify(token string) (Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, eris.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer("corpaction"))
	if err != nil || !parsed.Valid {
		return Principal{}, eris.Wrap(ErrInvalidToken, errString(err))
	}
	if claims.Subject == "" || claims.Role.Level() == 0 {
		return Principal{}, eris.Wrap(ErrInvalidToken, "missing subject or role")
	}
	return Principal{Email: claims.Subject, Role: claims.Role}, nil
}

func errString(err error) string {
	if err == nil {
		return "token not valid"
	}
	return err.Error()
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Actor returns the email of the principal in ctx, or SystemActor.
func Actor(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok && p.Email != "" {
		return p.Email
	}
	return SystemActor
}

// Require returns ErrForbidden unless ctx carries a principal of at least min.
// Contexts without a principal are internal callers and pass.
func Require(ctx context.Context, min model.Role) error {
	p, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	if !p.Role.AtLeast(min) {
		return eris.Wrapf(ErrForbidden, "%s requires %s", p.Role, min)
	}
	return nil
}
