package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// HKDF-SHA256 of testSecret with an empty salt and the NextAuth info
// string, computed independently.
const testSessionKeyHex = "233a0d9c3e93817c2a383a4235b78cc7820ed294cbf0a88d52650b90af59115a"

func encryptSession(t *testing.T, keyHex string, c jwt.MapClaims) string {
	t.Helper()

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: key}, nil)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	token, err := obj.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return token
}

func TestSessionEncryptionKey(t *testing.T) {
	got := hex.EncodeToString(sessionEncryptionKey([]byte(testSecret)))
	if got != testSessionKeyHex {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestVerifyEncryptedSession(t *testing.T) {
	v := NewVerifier(testSecret, "", "")

	token := encryptSession(t, testSessionKeyHex, validClaims())
	if n := strings.Count(token, "."); n != 4 {
		t.Fatalf("expected compact JWE, got %d separators", n)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	want := Identity{UserID: "user-1", Email: "ana@example.com", Name: "Ana", AvatarURL: "https://example.com/ana.png"}
	if id != want {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyEncryptedSessionRejects(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	noExpiry := validClaims()
	delete(noExpiry, "exp")

	noSubject := validClaims()
	delete(noSubject, "sub")

	otherKey := hex.EncodeToString(sessionEncryptionKey([]byte("other")))

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", encryptSession(t, otherKey, validClaims())},
		{"expired", encryptSession(t, testSessionKeyHex, expired)},
		{"no expiry", encryptSession(t, testSessionKeyHex, noExpiry)},
		{"no subject", encryptSession(t, testSessionKeyHex, noSubject)},
		{"truncated", "a.b.c.d.e"},
	}

	v := NewVerifier(testSecret, "", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestVerifyEncryptedSessionIssuer(t *testing.T) {
	v := NewVerifier(testSecret, "", "https://app.example.com")

	if _, err := v.Verify(encryptSession(t, testSessionKeyHex, validClaims())); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing issuer to be rejected, got %v", err)
	}

	c := validClaims()
	c["iss"] = "https://app.example.com"
	if _, err := v.Verify(encryptSession(t, testSessionKeyHex, c)); err != nil {
		t.Fatalf("expected matching issuer to verify, got %v", err)
	}
}

func TestMiddlewareAcceptsNextAuthCookies(t *testing.T) {
	v := NewVerifier(testSecret, "", "")
	token := encryptSession(t, testSessionKeyHex, validClaims())

	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := FromContext(r.Context())
		w.Write([]byte(id.UserID))
	}))

	half := len(token) / 2
	tests := []struct {
		name    string
		cookies []*http.Cookie
	}{
		{"plain", []*http.Cookie{{Name: DefaultCookieName, Value: token}}},
		{"secure prefix", []*http.Cookie{{Name: "__Secure-" + DefaultCookieName, Value: token}}},
		{"chunked", []*http.Cookie{
			{Name: DefaultCookieName + ".0", Value: token[:half]},
			{Name: DefaultCookieName + ".1", Value: token[half:]},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			for _, c := range tt.cookies {
				req.AddCookie(c)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if rec.Body.String() != "user-1" {
				t.Fatalf("unexpected caller %q", rec.Body.String())
			}
		})
	}
}
