package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier. Principal ids sort by
// creation time, which keeps grant and user listings stable.
func New() string {
	return ulid.Make().String()
}
