package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// lineWriter writes newline-delimited JSON and flushes after each line so
// progress reaches the client while the run continues.
type lineWriter struct {
	enc *json.Encoder
	rc  *http.ResponseController
	err error
}

func newLineWriter(w io.Writer, rc *http.ResponseController) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w), rc: rc}
}

// write encodes v. After the first failure every call returns that error.
func (l *lineWriter) write(v any) error {
	if l.err != nil {
		return l.err
	}
	if err := l.enc.Encode(v); err != nil {
		l.err = err
		return err
	}
	if err := l.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		l.err = err
	}
	return l.err
}
