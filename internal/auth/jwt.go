package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Claims carried by relay access tokens
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 bearer tokens issued by the account service
type JWTProvider struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

var _ interfaces.IdentityProvider = (*JWTProvider)(nil)

// NewJWTProvider creates a provider for secret. An empty issuer skips the
// iss check.
func NewJWTProvider(secret, issuer string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Identify verifies the token from the Authorization header or the token
// query parameter (browsers cannot set headers on a WebSocket handshake)
func (p *JWTProvider) Identify(r *http.Request) (types.Identity, error) {
	raw, err := tokenFrom(r)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, err)
	}

	claims := &Claims{}
	_, err = p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", interfaces.ErrUnauthenticated, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return types.Identity{}, fmt.Errorf("%w: token has no user id", interfaces.ErrUnauthenticated)
	}
	return finish(types.Identity{UserID: userID, DisplayName: claims.Name})
}

// Sign issues a token for id. Used by tooling and tests; the relay itself
// never hands out tokens.
func (p *JWTProvider) Sign(id types.Identity, claims jwt.RegisteredClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = p.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           id.UserID,
		Name:             id.DisplayName,
		RegisteredClaims: claims,
	})
	return token.SignedString(p.secret)
}

func tokenFrom(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", errors.New("invalid authorization header format")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.New("no token supplied")
}
