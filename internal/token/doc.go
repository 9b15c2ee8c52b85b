// Package token deals with room access credentials.
//
// HTTPProvisioner fetches a credential from the backend token endpoint.
// ParseClaims and Check decode it on the client without verifying the
// signature, to reject malformed or expired credentials before a join
// attempt and to read the identity and role it was issued for.
//
// Issuer signs LiveKit-compatible HS256 tokens. Only the development
// backend uses it; it records the participant role in the token's
// attributes so the room can classify participants without guessing
// from their identity.
package token
