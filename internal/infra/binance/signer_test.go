package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func reference(key, msg string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

func TestSign_StandardVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	expected := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	result := Sign("key", "The quick brown fox jumps over the lazy dog")

	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}

func TestSign_KeyLengths(t *testing.T) {
	msg := "symbol=BTCUSDT&side=BUY&type=MARKET&quantity=1&timestamp=1700000000000&recvWindow=60000"

	tests := []struct {
		name string
		key  string
	}{
		{"empty key", ""},
		{"short key", "secret"},
		{"exactly one block", strings.Repeat("k", blockSize)},
		{"one byte over block", strings.Repeat("k", blockSize+1)},
		{"long key", strings.Repeat("0123456789abcdef", 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, want := Sign(tt.key, msg), reference(tt.key, msg); got != want {
				t.Errorf("Sign = %s, want %s", got, want)
			}
		})
	}
}

func TestSign_LongKeyEqualsHashedKey(t *testing.T) {
	long := strings.Repeat("x", 100)
	sum := sha256.Sum256([]byte(long))
	hashed := string(sum[:])

	if Sign(long, "payload") != Sign(hashed, "payload") {
		t.Error("a key longer than the block must sign like its digest")
	}
}

func TestSign_ShortKeyEqualsPaddedKey(t *testing.T) {
	padded := "key" + strings.Repeat("\x00", blockSize-3)
	if Sign("key", "payload") != Sign(padded, "payload") {
		t.Error("a short key must sign like its zero-padded block")
	}
}

func TestSign_LargeMessage(t *testing.T) {
	msg := strings.Repeat("a=b&", 10000)
	if got, want := Sign("secret", msg), reference("secret", msg); got != want {
		t.Errorf("Sign over large message mismatch")
	}
}

func TestSigner_SignQuery(t *testing.T) {
	signer := NewSigner("api-key", "secret")
	query := "symbol=BTCUSDT&timestamp=1"

	signed := signer.SignQuery(query)
	if !strings.HasPrefix(signed, query+"&signature=") {
		t.Fatalf("unexpected signed query %q", signed)
	}
	if sig := strings.TrimPrefix(signed, query+"&signature="); sig != reference("secret", query) {
		t.Errorf("signature = %s, want %s", sig, reference("secret", query))
	}

	headers := signer.Headers()
	if headers["X-MBX-APIKEY"] != "api-key" {
		t.Errorf("Expected X-MBX-APIKEY to be 'api-key', got %s", headers["X-MBX-APIKEY"])
	}
}
