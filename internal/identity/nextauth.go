package identity

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

// NextAuth derives the A256GCM content key for its session JWE from the
// shared secret with this HKDF info string and an empty salt.
const nextAuthKeyInfo = "NextAuth.js Generated Encryption Key"

// secureCookiePrefix is prepended by NextAuth when the site is served
// over HTTPS.
const secureCookiePrefix = "__Secure-"

func sessionEncryptionKey(secret []byte) []byte {
	key := make([]byte, 32)
	// HKDF-SHA256 can expand up to 8160 bytes, so reading 32 cannot fail.
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(nextAuthKeyInfo)), key); err != nil {
		panic(fmt.Sprintf("derive session key: %v", err))
	}
	return key
}

func (v *Verifier) decryptSession(token string, c *claims) error {
	obj, err := jose.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return fmt.Errorf("parse session: %w", err)
	}

	payload, err := obj.Decrypt(v.encKey)
	if err != nil {
		return fmt.Errorf("decrypt session: %w", err)
	}

	if err := json.Unmarshal(payload, c); err != nil {
		return fmt.Errorf("decode session claims: %w", err)
	}

	if err := v.validator.Validate(c); err != nil {
		return err
	}
	return nil
}

// sessionCookie returns the session token from the request, trying the
// plain and __Secure- names. NextAuth splits tokens larger than a cookie
// into name.0, name.1, ... which are joined back in order.
func sessionCookie(r *http.Request, name string) string {
	for _, n := range []string{name, secureCookiePrefix + name} {
		if c, err := r.Cookie(n); err == nil && c.Value != "" {
			return c.Value
		}

		var b strings.Builder
		for i := 0; ; i++ {
			c, err := r.Cookie(n + "." + strconv.Itoa(i))
			if err != nil {
				break
			}
			b.WriteString(c.Value)
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}
