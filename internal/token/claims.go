// ABOUTME: LiveKit access token claims and unverified decoding on the client side
// ABOUTME: The client only reads identity, room, role and expiry; the server verifies the signature

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// AttrRole is the attribute carrying the participant role.
const AttrRole = "role"

// VideoGrant is the room permission block of a LiveKit access token.
type VideoGrant struct {
	RoomJoin          bool     `json:"roomJoin,omitempty"`
	Room              string   `json:"room,omitempty"`
	CanPublish        *bool    `json:"canPublish,omitempty"`
	CanSubscribe      *bool    `json:"canSubscribe,omitempty"`
	CanPublishData    *bool    `json:"canPublishData,omitempty"`
	CanPublishSources []string `json:"canPublishSources,omitempty"`
}

// Claims are the LiveKit access token claims. The participant identity is
// the subject.
type Claims struct {
	jwt.RegisteredClaims
	Name       string            `json:"name,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Metadata   string            `json:"metadata,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Video      *VideoGrant       `json:"video,omitempty"`
}

// Identity returns the participant identity the token was issued for.
func (c *Claims) Identity() string {
	return c.Subject
}

// Room returns the room the token grants access to.
func (c *Claims) Room() string {
	if c.Video == nil {
		return ""
	}
	return c.Video.Room
}

// Role returns the explicit role attribute, or "" when none was issued.
func (c *Claims) Role() string {
	return c.Attributes[AttrRole]
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

// ParseClaims decodes a token without verifying its signature. The client
// holds no secret; it decodes only to detect malformed or expired tokens
// early and to learn the identity and role it was issued.
func ParseClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims, nil
}

// Check decodes tokenString and rejects it if it is expired at now.
func Check(tokenString string, now time.Time) (*Claims, error) {
	claims, err := ParseClaims(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Expired(now) {
		return claims, ErrExpiredToken
	}
	return claims, nil
}
