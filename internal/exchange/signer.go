package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// Signer authenticates private REST calls. The venue scheme is an
// HMAC-SHA256 hex digest over the final query string, sent as a
// trailing signature parameter plus an API key header.
// Keys are stored as []byte so they can be wiped from memory.
type Signer struct {
	apiKey    []byte
	secretKey []byte
}

// NewSigner creates a new signer.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{
		apiKey:    []byte(apiKey),
		secretKey: []byte(secretKey),
	}
}

// HasKeys reports whether credentials are present.
func (s *Signer) HasKeys() bool {
	return s != nil && len(s.apiKey) > 0 && len(s.secretKey) > 0
}

// APIKey returns the key for the auth header.
func (s *Signer) APIKey() string { return string(s.apiKey) }

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	s.wipeSlice(s.apiKey)
	s.wipeSlice(s.secretKey)
}

func (s *Signer) wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Sign stamps params with timestamp and recvWindow, then appends the
// signature computed over the encoded query string. Returns the final
// query string ready to send.
func (s *Signer) Sign(params url.Values) string {
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", "5000")

	encoded := params.Encode()
	return encoded + "&signature=" + s.computeHmacSha256(encoded)
}

func (s *Signer) computeHmacSha256(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
