package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type AccountID string

type Account struct {
	ID   AccountID
	Name string
	// SecretRef points to the credential-store entry holding the
	// account's token blob, typically "gmail://<token>/oauth_tokens".
	SecretRef string
}

// SafeToken derives the on-disk identity for an account: profile directory
// names, cloned install directory names and credential keys all use it.
// The readable part keeps [a-z0-9@._-] with "@" -> "_at_" and "." -> "_";
// a short digest of the raw id is appended so two distinct raw ids that
// sanitize to the same text never collide on the same path.
func (id AccountID) SafeToken() string {
	lowered := strings.ToLower(string(id))

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	token := strings.ReplaceAll(b.String(), "@", "_at_")
	token = strings.ReplaceAll(token, ".", "_")

	sum := sha256.Sum256([]byte(id))
	return token + "-" + hex.EncodeToString(sum[:4])
}

func (id AccountID) SecretKey() string {
	return "gmail://" + id.SafeToken() + "/oauth_tokens"
}
