package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// Google accepts only S256; plain challenges are rejected.
const PKCEChallengeMethodS256 = "S256"

// PKCEPair holds the verifier sent on token exchange and the challenge
// sent on the consent redirect, per RFC 7636.
type PKCEPair struct {
	Verifier  string
	Challenge string
}

func NewPKCEPair() (PKCEPair, error) {
	// 32 random bytes encode to 43 url-safe chars, the RFC minimum.
	verifierBytes := make([]byte, 32)
	if _, err := rand.Read(verifierBytes); err != nil {
		return PKCEPair{}, err
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return PKCEPair{
		Verifier:  verifier,
		Challenge: challenge,
	}, nil
}
