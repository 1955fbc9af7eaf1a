package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazyhaar/coverbridge/auth"
	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/gaoding"
	"github.com/hazyhaar/coverbridge/imagezip"
	"github.com/hazyhaar/coverbridge/shield"
	"github.com/hazyhaar/coverbridge/store"
)

// errBadRequest marks malformed request bodies.
var errBadRequest = errors.New("bad request")

// msgConfigMissing is shown when the user has not saved table credentials.
const msgConfigMissing = "请先配置飞书凭证"

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// fail maps err to a status and writes it. Server errors are logged with the
// request logger and reported without detail.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	switch {
	case errors.Is(err, store.ErrConfigMissing):
		err = errors.New(msgConfigMissing)
	case code >= 500 && code != http.StatusBadGateway:
		shield.GetLogger(r.Context()).Error("request failed", "error", err)
		err = errors.New("internal error")
	}
	writeError(w, code, err)
}

// statusOf is the HTTP status for an operation error.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrConfigMissing),
		errors.Is(err, store.ErrInvalid),
		errors.Is(err, imagezip.ErrMalformedArchive),
		errors.Is(err, feishu.ErrCredentials),
		errors.Is(err, gaoding.ErrInvalidHeaders),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrBadCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, imagezip.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, feishu.ErrAuth), errors.Is(err, feishu.ErrRemote), errors.Is(err, feishu.ErrIncomplete):
		return http.StatusBadGateway
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

// decodeBase64 accepts standard base64, with or without a data URL prefix.
func decodeBase64(field, s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", errBadRequest, field)
	}
	return b, nil
}

func sessionUser(r *http.Request) string {
	if c := auth.GetClaims(r.Context()); c != nil {
		return c.UserID
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// attachment is a Content-Disposition value carrying a UTF-8 file name with
// an ASCII fallback.
func attachment(name string) string {
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, pathEscape(name))
}

// pathEscape percent-encodes everything outside the RFC 5987 attr-char set.
func pathEscape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
			strings.IndexByte("!#$&+-.^_`|~", c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}
