package mid

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trueclaim/claims-engine/engine/domain"
)

const (
	testEncryptionKey = "unit-test-encryption-key"
	testAPIKey        = "unit-test-api-key"
)

func authedHandler(t *testing.T) http.Handler {
	t.Helper()
	return Auth(testEncryptionKey, testAPIKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	token, err := Encrypt(testEncryptionKey, testAPIKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	got, err := Decrypt(testEncryptionKey, token)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != testAPIKey {
		t.Fatalf("round trip = %q", got)
	}

	// A fresh nonce every time means tokens never repeat.
	token2, _ := Encrypt(testEncryptionKey, testAPIKey)
	if token == token2 {
		t.Error("two encryptions produced the same token")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	token, _ := Encrypt(testEncryptionKey, testAPIKey)
	_, err := Decrypt("a-different-key", token)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	for _, token := range []string{"", "!!!", "aGVsbG8="} {
		if _, err := Decrypt(testEncryptionKey, token); !errors.Is(err, domain.ErrAuth) {
			t.Errorf("Decrypt(%q) err = %v, want ErrAuth", token, err)
		}
	}
}

func TestAuth_ValidToken(t *testing.T) {
	token, _ := Encrypt(testEncryptionKey, testAPIKey)
	req := httptest.NewRequest("POST", "/vehicle-damage/classify", nil)
	req.Header.Set(HeaderAPIKey, token)

	rec := httptest.NewRecorder()
	authedHandler(t).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	authedHandler(t).ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_WrongAPIKey(t *testing.T) {
	token, _ := Encrypt(testEncryptionKey, "not-the-configured-key")
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set(HeaderAPIKey, token)

	rec := httptest.NewRecorder()
	authedHandler(t).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_UnconfiguredServer(t *testing.T) {
	called := false
	h := Auth("", "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if called {
		t.Error("handler ran without server credentials")
	}
}
