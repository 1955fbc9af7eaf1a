// Package idgen generates the prefixed, time-sortable IDs of users, tasks
// and events. Stores take a Generator so tests can pin IDs.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns RFC 9562 version 7 UUIDs, which sort by creation time.
func UUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Prefixed returns prefix followed by a UUIDv7.
func Prefixed(prefix string) Generator {
	return func() string { return prefix + UUIDv7() }
}

// Sequence yields prefix1, prefix2, ... and is safe for concurrent use.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string { return prefix + strconv.FormatInt(n.Add(1), 10) }
}

var (
	UserID  = Prefixed("usr_")
	TaskID  = Prefixed("tsk_")
	EventID = Prefixed("evt_")
)
