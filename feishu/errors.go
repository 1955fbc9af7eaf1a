package feishu

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the tenant token exchange is rejected.
	// No further authenticated call is possible with these credentials.
	ErrAuth = errors.New("feishu: authentication failed")

	// ErrRemote matches every non-auth error reported by the Open API.
	ErrRemote = errors.New("feishu: remote API error")

	// ErrTokenInvalid matches errors caused by a missing, expired or revoked
	// access token. The client refreshes and retries once on these.
	ErrTokenInvalid = errors.New("feishu: access token rejected")

	// ErrIncomplete is returned when pagination stops before the table
	// says it is done. A partial record set is never returned.
	ErrIncomplete = errors.New("feishu: record listing incomplete")

	// ErrCredentials is returned when required credential fields are empty
	// or malformed.
	ErrCredentials = errors.New("feishu: incomplete credentials")
)

// Token rejection codes documented by the Open Platform.
var tokenErrorCodes = map[int]bool{
	99991661: true, // missing access token
	99991663: true, // invalid tenant access token
	99991664: true, // invalid app access token
	99991668: true, // invalid user access token
	99991677: true, // token expired
}

// APIError carries the remote code and message verbatim for diagnostics.
type APIError struct {
	Op     string // operation name, e.g. "list_records"
	Status int    // HTTP status
	Code   int    // Open API code, -1 when the body was not an envelope
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feishu: %s: http %d code %d: %s", e.Op, e.Status, e.Code, e.Msg)
}

// Is lets callers test with errors.Is against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Op == opToken
	case ErrTokenInvalid:
		return e.Op != opToken && e.tokenRejected()
	case ErrRemote:
		return e.Op != opToken
	}
	return false
}

func (e *APIError) tokenRejected() bool {
	return e.Status == 401 || tokenErrorCodes[e.Code]
}
