package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrJWTInvalid           = errors.New("auth: invalid jwt")
	ErrJWTExpired           = errors.New("auth: jwt expired")
	ErrJWTInvalidClaims     = errors.New("auth: invalid jwt claims")
	ErrJWTMissingSigningKey = errors.New("auth: missing signing key")
	ErrJWTWeakSigningKey    = errors.New("auth: signing key too short")
)

// MinSecretLength is the shortest HMAC secret accepted by NewJWTValidator
// when strict key checking is on.
const MinSecretLength = 32

// AccessClaims is the payload of the long-lived access tokens this service
// accepts.
type AccessClaims struct {
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator verifies HMAC-signed access tokens and can mint them for
// operators and tests.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
	strict   bool
}

// JWTOption customizes a JWTValidator.
type JWTOption func(*JWTValidator)

// WithIssuer requires and stamps the iss claim.
func WithIssuer(issuer string) JWTOption {
	return func(v *JWTValidator) { v.issuer = issuer }
}

// WithAudience requires and stamps the aud claim.
func WithAudience(aud string) JWTOption {
	return func(v *JWTValidator) { v.audience = aud }
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) JWTOption {
	return func(v *JWTValidator) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithJWTClock injects the clock used for issuance and validation.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(v *JWTValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithStrictKey rejects secrets shorter than MinSecretLength.
func WithStrictKey() JWTOption {
	return func(v *JWTValidator) { v.strict = true }
}

// NewJWTValidator builds an HS256/384/512 validator.
func NewJWTValidator(secret []byte, opts ...JWTOption) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, ErrJWTMissingSigningKey
	}
	v := &JWTValidator{
		secret: append([]byte(nil), secret...),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.strict && len(v.secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrJWTWeakSigningKey, MinSecretLength)
	}
	return v, nil
}

// Validate implements TokenValidator. Bad tokens yield Valid=false with a
// nil error; this validator never fails for transport reasons.
func (v *JWTValidator) Validate(ctx context.Context, raw string) (TokenClaims, error) {
	if err := contextError(ctx); err != nil {
		return TokenClaims{}, err
	}
	claims, err := v.Parse(raw)
	if err != nil {
		return TokenClaims{Valid: false}, nil
	}
	return TokenClaims{
		Valid:        true,
		SubjectID:    claims.Subject,
		SubjectEmail: claims.Email,
		Permissions:  cloneStrings(claims.Permissions),
	}, nil
}

// Parse verifies raw and returns its claims.
func (v *JWTValidator) Parse(raw string) (*AccessClaims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrJWTExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrJWTInvalid, err)
	}
	if !token.Valid {
		return nil, ErrJWTInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrJWTInvalidClaims)
	}
	return claims, nil
}

// Issue signs an HS256 access token for subject valid for ttl.
func (v *JWTValidator) Issue(subject, email string, permissions []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrJWTInvalidClaims)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: non-positive ttl", ErrJWTInvalidClaims)
	}
	id, err := randomID()
	if err != nil {
		return "", err
	}
	now := v.now()
	claims := AccessClaims{
		Email:       email,
		Permissions: cloneStrings(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
