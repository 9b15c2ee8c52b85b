// ABOUTME: HS256 LiveKit-compatible access token issuer for the development backend
// ABOUTME: Puts the participant role into the token attributes at issuance

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = time.Hour

// Grant describes one token to issue.
type Grant struct {
	Identity string
	Room     string
	Name     string
	Role     string // "human" or "agent"; omitted when empty
	TTL      time.Duration
}

// Issuer signs and verifies access tokens with an API key and secret.
type Issuer struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an issuer for the given API key pair.
func NewIssuer(apiKey string, secret []byte) *Issuer {
	return &Issuer{apiKey: apiKey, secret: secret, now: time.Now}
}

// Issue creates a signed token granting g.Identity access to g.Room.
func (i *Issuer) Issue(g Grant) (string, error) {
	if g.Identity == "" {
		return "", fmt.Errorf("%w: identity", ErrMissingClaim)
	}
	if g.Room == "" {
		return "", fmt.Errorf("%w: room", ErrMissingClaim)
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	yes := true
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   g.Identity,
			ID:        g.Identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: g.Name,
		Video: &VideoGrant{
			RoomJoin:          true,
			Room:              g.Room,
			CanPublish:        &yes,
			CanSubscribe:      &yes,
			CanPublishData:    &yes,
			CanPublishSources: []string{"microphone"},
		},
	}
	if claims.Name == "" {
		claims.Name = g.Identity
	}
	if g.Role != "" {
		claims.Attributes = map[string]string{AttrRole: g.Role}
		if g.Role == "agent" {
			claims.Kind = "agent"
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates the signature, issuer and expiry of tokenString.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.apiKey), jwt.WithTimeFunc(i.now))

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims, nil
}
