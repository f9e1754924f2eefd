package auth

import (
	"fmt"

	"chatrelay/pkg/interfaces"
)

// Provider modes
const (
	ModeHeader = "header"
	ModeJWT    = "jwt"
)

// NewProvider builds the identity provider for mode
func NewProvider(mode, secret, issuer string) (interfaces.IdentityProvider, error) {
	switch mode {
	case ModeHeader, "":
		return HeaderProvider{}, nil
	case ModeJWT:
		return NewJWTProvider(secret, issuer)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
