package httpserver

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// credential is the single static user:pass pair gating every request.
// The password is bcrypt-hashed at startup; only the hash is retained.
type credential struct {
	user string
	hash []byte
}

func newCredential(pair string) (*credential, error) {
	user, pass, ok := strings.Cut(pair, ":")
	if !ok || user == "" {
		return nil, errors.New("credential must be user:pass")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &credential{user: user, hash: hash}, nil
}

func (c *credential) check(r *http.Request) bool {
	u, p, ok := parseBasicAuth(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(u), []byte(c.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.hash, []byte(p)) == nil
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="airlift"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	u := s[:i]
	p := s[i+1:]
	if u == "" {
		return "", "", false
	}
	if strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}
