// Package xcorr generates short correlation IDs attached to present requests
// and transmission items purely for log/event correlation. They play no part
// in any ordering or state-machine invariant.
package xcorr

import "github.com/rs/xid"

// New returns a new globally-sortable correlation ID string.
func New() string {
	return xid.New().String()
}
