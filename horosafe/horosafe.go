// Package horosafe holds the input guards the bridge applies before values
// reach a remote URL, a signing key or memory.
package horosafe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// MinSecretLen is the shortest accepted HS256 session key.
const MinSecretLen = 32

// MaxIdentifierLen bounds app tokens, table IDs and record IDs.
const MaxIdentifierLen = 256

// MaxResponseBody caps Open Platform JSON responses.
const MaxResponseBody int64 = 1 << 20

var (
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	ErrBadIdentifier  = errors.New("horosafe: bad identifier")
	ErrTooLarge       = errors.New("horosafe: payload exceeds limit")
)

func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ValidateIdentifier accepts [A-Za-z0-9_.-]{1,256}, the shape of every ID
// interpolated into a Bitable path.
func ValidateIdentifier(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrBadIdentifier)
	case len(s) > MaxIdentifierLen:
		return fmt.Errorf("%w: longer than %d", ErrBadIdentifier, MaxIdentifierLen)
	}
	if i := strings.IndexFunc(s, notIdent); i >= 0 {
		return fmt.Errorf("%w: %q at %d", ErrBadIdentifier, s[i], i)
	}
	return nil
}

func notIdent(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return false
	}
	return r != '_' && r != '-' && r != '.'
}

// BaseName is the file part of an archive entry name. Backslash counts as a
// separator since Windows archivers write it.
func BaseName(name string) string {
	b := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if b == "." || b == "/" {
		return ""
	}
	return b
}

// LimitedReadAll reads r to EOF, failing with ErrTooLarge past maxBytes.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, maxBytes+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return buf.Bytes(), nil
}
