package mid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/trueclaim/claims-engine/engine/domain"
)

// HeaderAPIKey carries the encrypted credential on every protected call.
const HeaderAPIKey = "x-api-key"

// aead derives an AES-256-GCM cipher from the shared encryption key.
// The key is hashed so operators can configure a passphrase of any length.
func aead(encryptionKey string) (cipher.AEAD, error) {
	sum := sha256.Sum256([]byte(encryptionKey))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals apiKey into a base64url token of nonce plus ciphertext.
// Used by the key generation tool and by tests.
func Encrypt(encryptionKey, apiKey string) (string, error) {
	g, err := aead(encryptionKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := g.Seal(nonce, nonce, []byte(apiKey), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed or forged
// token fails with ErrAuth.
func Decrypt(encryptionKey, token string) (string, error) {
	g, err := aead(encryptionKey)
	if err != nil {
		return "", err
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("token not base64url: %w", domain.ErrAuth)
	}
	if len(raw) < g.NonceSize() {
		return "", fmt.Errorf("token too short: %w", domain.ErrAuth)
	}
	plain, err := g.Open(nil, raw[:g.NonceSize()], raw[g.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("token decryption failed: %w", domain.ErrAuth)
	}
	return string(plain), nil
}

// Auth returns middleware that rejects requests without a valid
// encrypted x-api-key header before any downstream work happens.
// Missing server-side credentials are a server fault, not a client one.
func Auth(encryptionKey, apiKey string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if encryptionKey == "" || apiKey == "" {
				http.Error(w, "server credentials not configured", http.StatusInternalServerError)
				return
			}
			token := r.Header.Get(HeaderAPIKey)
			if token == "" {
				http.Error(w, "missing "+HeaderAPIKey+" header", http.StatusUnauthorized)
				return
			}
			got, err := Decrypt(encryptionKey, token)
			if err != nil {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
