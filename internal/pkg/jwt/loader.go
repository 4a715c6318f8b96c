// internal/pkg/jwt/loader.go
package jwt

import (
	"fmt"
)

type Config struct {
	// PublicKey holds the PEM text inline; PubPath is used when it is empty.
	PublicKey string
	PubPath   string
	KeyID     string

	// Previous key stays accepted while the web app rotates signing keys.
	PreviousPublicKey string
	PreviousKeyID     string

	Issuer   string
	Audience string
}

// LoadVerifier builds a Verifier for tokens issued by the main web app.
func LoadVerifier(cfg Config) (*Verifier, error) {
	pub, err := inlineOrFile(cfg.PublicKey, cfg.PubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	v := NewVerifier(pub, cfg.Issuer, cfg.Audience)
	if cfg.KeyID != "" {
		v.WithKey(cfg.KeyID, pub)
	}

	if cfg.PreviousPublicKey != "" {
		if cfg.PreviousKeyID == "" {
			return nil, fmt.Errorf("previous public key needs a key id")
		}
		prev, err := inlineOrFile(cfg.PreviousPublicKey, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load previous public key: %w", err)
		}
		v.WithKey(cfg.PreviousKeyID, prev)
	}
	return v, nil
}
