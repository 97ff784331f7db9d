// Package broadcast implements the server's UDP broadcast engine: the
// chunk request queue and its cursor-rotation drain, the wait_for pacing
// accumulator, and the per-second hint beacon's snake placement algorithm.
package broadcast

import (
	"bytes"
	"sync"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

// Queue is an ordered set of pending chunk requests, drained by successor
// of a rotating cursor: after emitting one hash, the cursor becomes that
// hash, and the next Pop looks for the next-greater member, wrapping back
// to the minimum once the walk passes the maximum. This guarantees bursty
// re-requests from many clients don't starve any one chunk and that each
// queued chunk is served at most once per full rotation.
type Queue struct {
	mu      sync.Mutex
	members map[store.ChunkHash]struct{}
	cursor  store.ChunkHash
}

// NewQueue returns an empty Queue with its cursor at the all-zero hash, so
// the first Pop returns the overall smallest queued member.
func NewQueue() *Queue {
	return &Queue{members: make(map[store.ChunkHash]struct{})}
}

// Add inserts hash into the queue if not already present.
func (q *Queue) Add(hash store.ChunkHash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.members[hash] = struct{}{}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.members)
}

// Pop removes and returns the next-greater member after the cursor,
// wrapping to the smallest member if none is greater; it advances the
// cursor to the returned hash. Pop returns ok=false if the queue is empty.
func (q *Queue) Pop() (hash store.ChunkHash, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.members) == 0 {
		return store.ChunkHash{}, false
	}

	var best, smallest store.ChunkHash
	haveBest, haveSmallest := false, false
	for h := range q.members {
		if !haveSmallest || bytes.Compare(h[:], smallest[:]) < 0 {
			smallest = h
			haveSmallest = true
		}
		if bytes.Compare(h[:], q.cursor[:]) > 0 && (!haveBest || bytes.Compare(h[:], best[:]) < 0) {
			best = h
			haveBest = true
		}
	}
	if haveBest {
		hash = best
	} else {
		hash = smallest
	}
	delete(q.members, hash)
	q.cursor = hash
	return hash, true
}
