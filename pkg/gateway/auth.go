package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// DefaultMaxAuthAttempts is the number of bad signatures after which the
// connection is closed.
const DefaultMaxAuthAttempts = 3

// AuthHandler runs the HMAC challenge handshake for websocket clients.
type AuthHandler struct {
	sharedSecret string
	maxAttempts  int
}

func NewAuthHandler(sharedSecret string, maxAttempts int) *AuthHandler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAuthAttempts
	}
	return &AuthHandler{
		sharedSecret: sharedSecret,
		maxAttempts:  maxAttempts,
	}
}

// Sign computes the response a client sends for challenge.
func Sign(secret, challenge string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateChallenge returns 32 random bytes, hex encoded.
func (a *AuthHandler) GenerateChallenge() (string, error) {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(challenge), nil
}

func (a *AuthHandler) VerifySignature(challenge, signature string) bool {
	expected := Sign(a.sharedSecret, challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// MatchesSecret compares secret with the shared secret in constant time.
func (a *AuthHandler) MatchesSecret(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// Exhausted reports whether client used up its attempts.
func (a *AuthHandler) Exhausted(client *Client) bool {
	return client.AuthAttempts >= a.maxAttempts
}

// HandleAuthResponse checks signature against the client's pending challenge
// and updates the client on success.
func (a *AuthHandler) HandleAuthResponse(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return AuthResult{
			Event:   "auth.failure",
			Message: "No challenge found",
		}
	}

	if a.Exhausted(client) {
		return AuthResult{
			Event:   "auth.failure",
			Message: "Too many failed attempts",
		}
	}

	if !a.VerifySignature(client.Challenge, signature) {
		client.AuthAttempts++
		if a.Exhausted(client) {
			return AuthResult{
				Event:   "auth.failure",
				Message: "Too many failed attempts",
			}
		}
		return AuthResult{
			Event:   "auth.failure",
			Message: "Invalid signature",
		}
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{
		Event:   "auth.success",
		Success: true,
	}
}
