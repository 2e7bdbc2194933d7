package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/roach88/roomtodo/internal/model"
)

// DefaultTTL is the lifetime of issued tokens when none is configured.
const DefaultTTL = 24 * time.Hour

const issuerName = "roomtodo"

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrNoSecret is returned when an Issuer is built without a secret.
	ErrNoSecret = errors.New("jwt secret is empty")
)

// Claims are the JWT claims of a session token.
type Claims struct {
	Email string `json:"email"`
	gojwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL sets the token lifetime. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithNow sets the clock used for issued-at and expiry checks.
func WithNow(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer for secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	i := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue returns a signed token for u.
func (i *Issuer) Issue(u model.User) (string, error) {
	if u.ID == "" {
		return "", fmt.Errorf("issue token: user id is empty")
	}
	now := i.now()
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   u.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its user.
func (i *Issuer) Verify(token string) (model.User, error) {
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuerName),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(i.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return model.User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return model.User{ID: claims.Subject, Email: claims.Email}, nil
}
