package auth

import (
	"fmt"
	"time"
)

// ValidatorConfig selects and configures the bearer-token validator.
type ValidatorConfig struct {
	// Kind is "jwt" (default) or "remote".
	Kind string

	JWTSecret   []byte
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration

	RemoteURL     string
	RemotePath    string
	RemoteTimeout time.Duration
}

// NewTokenValidator builds the TokenValidator described by cfg.
func NewTokenValidator(cfg ValidatorConfig) (TokenValidator, error) {
	switch cfg.Kind {
	case "", "jwt":
		opts := []JWTOption{WithIssuer(cfg.JWTIssuer), WithAudience(cfg.JWTAudience)}
		if cfg.JWTLeeway > 0 {
			opts = append(opts, WithLeeway(cfg.JWTLeeway))
		}
		v, err := NewJWTValidator(cfg.JWTSecret, opts...)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "remote":
		v, err := NewRemoteValidator(cfg.RemoteURL, cfg.RemotePath, cfg.RemoteTimeout)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("auth: unknown validator %q", cfg.Kind)
	}
}
