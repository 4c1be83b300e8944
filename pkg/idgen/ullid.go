package idgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a monotonic ULID source shared across calls: oklog/ulid
// recommends wrapping the math/rand reader with ulid.Monotonic so IDs
// minted within the same millisecond still sort strictly increasing,
// instead of reseeding a fresh reader per call.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// MustGenerateSortableID returns a new lexicographically sortable batch
// identifier. Panics if ULID generation fails, which only happens on
// timestamp overflow far beyond this program's lifetime.
func MustGenerateSortableID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
