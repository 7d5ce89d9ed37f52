// Package idgen generates the identifiers used for sessions and queued
// messages. IDs are 20 lowercase base32hex characters, sortable by creation
// time and unique across processes.
package idgen

import "github.com/rs/xid"

// New returns a fresh ID.
func New() string {
	return xid.New().String()
}
