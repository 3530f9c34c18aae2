// Package signature checks GitHub's X-Hub-Signature-256 header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "sha256="

var (
	ErrMissingSignature   = errors.New("signature header missing")
	ErrMalformedSignature = errors.New("signature header malformed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// Result tells the caller whether the check actually ran.
type Result int

const (
	Verified Result = iota
	// Skipped means no secret is configured; the request is unauthenticated.
	Skipped
)

// Verify validates header against HMAC-SHA256(secret, body).
// An empty secret skips verification; callers map placeholder values to "".
func Verify(body []byte, header, secret string) (Result, error) {
	if secret == "" {
		return Skipped, nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return Verified, ErrMissingSignature
	}
	if !strings.HasPrefix(header, prefix) {
		return Verified, ErrMalformedSignature
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil || len(got) != sha256.Size {
		return Verified, ErrMalformedSignature
	}
	if !hmac.Equal(got, sum(body, secret)) {
		return Verified, ErrSignatureMismatch
	}
	return Verified, nil
}

// Sign returns the header value GitHub would send for body.
func Sign(body []byte, secret string) string {
	return prefix + hex.EncodeToString(sum(body, secret))
}

func sum(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
