// internal/pkg/jwt/verifier.go
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLeeway absorbs clock skew between the web app and this service.
const DefaultLeeway = 30 * time.Second

var ErrUnknownKey = errors.New("token signed with unknown key")

// Verifier checks RS256 tokens from the web app. Tokens carrying a kid are
// matched against registered keys; tokens without one use the primary key.
type Verifier struct {
	primary  *rsa.PublicKey
	keys     map[string]*rsa.PublicKey
	issuer   string
	audience string
	leeway   time.Duration
}

func NewVerifier(pub *rsa.PublicKey, issuer, audience string) *Verifier {
	return &Verifier{
		primary:  pub,
		keys:     map[string]*rsa.PublicKey{},
		issuer:   issuer,
		audience: audience,
		leeway:   DefaultLeeway,
	}
}

// WithKey accepts tokens whose kid header is kid.
func (v *Verifier) WithKey(kid string, pub *rsa.PublicKey) *Verifier {
	v.keys[kid] = pub
	return v
}

// WithLeeway overrides DefaultLeeway.
func (v *Verifier) WithLeeway(d time.Duration) *Verifier {
	v.leeway = d
	return v
}

func (v *Verifier) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		if v.primary == nil {
			return nil, ErrUnknownKey
		}
		return v.primary, nil
	}
	if pub, ok := v.keys[kid]; ok {
		return pub, nil
	}
	if len(v.keys) == 0 && v.primary != nil {
		// No key ids configured: trust the primary whatever the header says
		return v.primary, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

// Verify validates a token and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFor, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.User() == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
