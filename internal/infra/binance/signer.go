package binance

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

const (
	blockSize = sha256.BlockSize
	innerPad  = 0x36
	outerPad  = 0x5c

	apiKeyHeader = "X-MBX-APIKEY"
)

// Sign returns the lowercase hex HMAC-SHA256 of message under secret.
//
// The key is hashed down when longer than the block, then zero-padded to
// the block size. The inner pass hashes (key^0x36)||message and the outer
// pass hashes (key^0x5c)||inner digest bytes.
func Sign(secret, message string) string {
	var key [blockSize]byte
	if len(secret) > blockSize {
		sum := sha256.Sum256([]byte(secret))
		copy(key[:], sum[:])
	} else {
		copy(key[:], secret)
	}

	var pad [blockSize]byte
	for i := range key {
		pad[i] = key[i] ^ innerPad
	}
	inner := sha256.New()
	inner.Write(pad[:])
	writeString(inner, message)
	var innerSum [sha256.Size]byte
	inner.Sum(innerSum[:0])

	for i := range key {
		pad[i] = key[i] ^ outerPad
	}
	outer := sha256.New()
	outer.Write(pad[:])
	outer.Write(innerSum[:])
	var digest [sha256.Size]byte
	outer.Sum(digest[:0])

	return hex.EncodeToString(digest[:])
}

// writeString streams s into h through a fixed buffer so signing a large
// body never copies it whole.
func writeString(h hash.Hash, s string) {
	var buf [512]byte
	for len(s) > 0 {
		n := copy(buf[:], s)
		h.Write(buf[:n])
		s = s[n:]
	}
}

// Signer holds the API credentials for authenticated requests.
type Signer struct {
	apiKey    string
	secretKey string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey}
}

// SignQuery appends the signature parameter to an encoded query or form body.
func (s *Signer) SignQuery(query string) string {
	return query + "&signature=" + Sign(s.secretKey, query)
}

// Headers returns the headers every authenticated request carries.
func (s *Signer) Headers() map[string]string {
	return map[string]string{
		apiKeyHeader:   s.apiKey,
		"Content-Type": "application/x-www-form-urlencoded",
	}
}
