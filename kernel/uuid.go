package kernel

import (
	"time"

	"github.com/gofrs/uuid"
)

// newUUID returns a freshly generated UUID v4 as its canonical 36-char
// string form. Jupyter message ids, session ids, signing keys, and kernel
// ids are all UUID v4 by protocol convention.
func newUUID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// nowISO8601 returns the current UTC time formatted per the Jupyter header
// date field (ISO 8601 / RFC 3339).
func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
