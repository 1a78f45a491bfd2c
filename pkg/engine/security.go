package engine

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// securityBlob is the database header's password-check payload: a random
// nonce plus the HMAC-SHA256 of that nonce keyed by the password. Opening
// the file again with the right password reproduces the same MAC; a wrong
// or missing password does not. This is deliberately not an encryption
// scheme: spec.md's non-goals exclude encrypting the file's contents, but
// still name Auth as an error kind the engine must be able to return, so a
// stdlib crypto/hmac check is the smallest mechanism that satisfies that
// requirement without inventing an out-of-scope cipher layer.
const nonceSize = 16

func newSecurityBlob(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, tinyerr.Wrap(tinyerr.KindIO, "engine.newSecurityBlob", err)
	}
	mac := hmacOf(nonce, password)
	return append(nonce, mac...), nil
}

func hmacOf(nonce []byte, password string) []byte {
	h := hmac.New(sha256.New, []byte(password))
	h.Write(nonce)
	return h.Sum(nil)
}

// checkPassword verifies password against blob (as produced by
// newSecurityBlob). An empty blob means the database was opened without a
// password, so any password check against it fails; opening a
// password-protected database without a password likewise fails.
func checkPassword(blob []byte, password string) error {
	const op = "engine.checkPassword"
	if len(blob) == 0 {
		if password == "" {
			return nil
		}
		return tinyerr.New(tinyerr.KindAuth, op, "database has no password set")
	}
	if password == "" {
		return tinyerr.New(tinyerr.KindAuth, op, "password required")
	}
	if len(blob) < nonceSize {
		return tinyerr.New(tinyerr.KindCorruption, op, "truncated security blob")
	}
	nonce, want := blob[:nonceSize], blob[nonceSize:]
	got := hmacOf(nonce, password)
	if !hmac.Equal(got, want) {
		return tinyerr.New(tinyerr.KindAuth, op, "incorrect password")
	}
	return nil
}
