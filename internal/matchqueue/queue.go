// Package matchqueue holds pending match requests partitioned by time control.
//
// Each bucket is an index-stable arena: slots are recycled through a free
// list and linked in FIFO order, so removing a paired request never shifts
// other entries. All reads and writes of a bucket happen under its mutex.
package matchqueue

import (
	"fmt"
	"sync"

	"github.com/park285/wagerchess-core/internal/domain"
)

const nilIdx = -1

// ClaimFunc is offered each mutually acceptable candidate during Pair while
// the bucket lock is held. Returning false skips the candidate. It must not
// call back into the Queue.
type ClaimFunc func(self, opponent domain.MatchRequest) bool

type Queue struct {
	mu      sync.RWMutex
	buckets map[domain.TimeControl]*bucket
}

type bucket struct {
	mu       sync.Mutex
	slots    []slot
	free     []int
	head     int
	tail     int
	byPlayer map[string]int
}

type slot struct {
	req  domain.MatchRequest
	prev int
	next int
	live bool
}

func New() *Queue {
	return &Queue{buckets: make(map[domain.TimeControl]*bucket)}
}

func newBucket() *bucket {
	return &bucket{head: nilIdx, tail: nilIdx, byPlayer: make(map[string]int)}
}

func (q *Queue) bucket(tc domain.TimeControl, create bool) *bucket {
	q.mu.RLock()
	b := q.buckets[tc]
	q.mu.RUnlock()
	if b != nil || !create {
		return b
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if b = q.buckets[tc]; b == nil {
		b = newBucket()
		q.buckets[tc] = b
	}
	return b
}

// Enqueue adds req to its time-control bucket, keeping EnqueuedAt order.
func (q *Queue) Enqueue(req domain.MatchRequest) error {
	if req.PlayerID == "" {
		return fmt.Errorf("%w: empty player id", domain.ErrPlayerNotFound)
	}
	if !req.TimeControl.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidTimeControl, req.TimeControl)
	}
	b := q.bucket(req.TimeControl, true)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.byPlayer[req.PlayerID]; dup {
		return domain.ErrDuplicateRequest
	}
	b.insert(req)
	return nil
}

// Remove drops the player's request for tc. It reports whether anything was removed.
func (q *Queue) Remove(playerID string, tc domain.TimeControl) bool {
	b := q.bucket(tc, false)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.byPlayer[playerID]
	if !ok {
		return false
	}
	b.unlink(idx)
	return true
}

// ScanForMatch returns the earliest-enqueued request that mutually accepts req.
// It does not modify the queue.
func (q *Queue) ScanForMatch(req domain.MatchRequest) (domain.MatchRequest, bool) {
	b := q.bucket(req.TimeControl, false)
	if b == nil {
		return domain.MatchRequest{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := b.head; i != nilIdx; i = b.slots[i].next {
		if cand := b.slots[i].req; req.Accepts(cand) {
			return cand, true
		}
	}
	return domain.MatchRequest{}, false
}

// Pair publishes rng as the player's current range, scans for the earliest
// mutually acceptable opponent and removes both requests, all in one critical
// section. ok is false when the player is no longer queued or nobody
// acceptable (and claimable) is waiting.
func (q *Queue) Pair(playerID string, tc domain.TimeControl, rng domain.RatingRange, claim ClaimFunc) (self, opponent domain.MatchRequest, ok bool) {
	b := q.bucket(tc, false)
	if b == nil {
		return self, opponent, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, queued := b.byPlayer[playerID]
	if !queued {
		return self, opponent, false
	}
	b.slots[idx].req.Range = rng
	self = b.slots[idx].req
	for i := b.head; i != nilIdx; i = b.slots[i].next {
		if i == idx {
			continue
		}
		cand := b.slots[i].req
		if !self.Accepts(cand) {
			continue
		}
		if claim != nil && !claim(self, cand) {
			continue
		}
		b.unlink(idx)
		b.unlink(i)
		return self, cand, true
	}
	return self, domain.MatchRequest{}, false
}

// Contains reports whether the player currently has a queued request for tc.
func (q *Queue) Contains(playerID string, tc domain.TimeControl) bool {
	b := q.bucket(tc, false)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byPlayer[playerID]
	return ok
}

func (q *Queue) Len(tc domain.TimeControl) int {
	b := q.bucket(tc, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byPlayer)
}

// Snapshot copies the bucket for tc in FIFO order.
func (q *Queue) Snapshot(tc domain.TimeControl) []domain.MatchRequest {
	b := q.bucket(tc, false)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.MatchRequest, 0, len(b.byPlayer))
	for i := b.head; i != nilIdx; i = b.slots[i].next {
		out = append(out, b.slots[i].req)
	}
	return out
}

// TimeControls lists buckets that currently hold at least one request.
func (q *Queue) TimeControls() []domain.TimeControl {
	q.mu.RLock()
	all := make(map[domain.TimeControl]*bucket, len(q.buckets))
	for tc, b := range q.buckets {
		all[tc] = b
	}
	q.mu.RUnlock()
	var out []domain.TimeControl
	for tc, b := range all {
		b.mu.Lock()
		n := len(b.byPlayer)
		b.mu.Unlock()
		if n > 0 {
			out = append(out, tc)
		}
	}
	return out
}

// arena helpers; callers hold b.mu

func (b *bucket) alloc() int {
	if n := len(b.free); n > 0 {
		idx := b.free[n-1]
		b.free = b.free[:n-1]
		return idx
	}
	b.slots = append(b.slots, slot{})
	return len(b.slots) - 1
}

func (b *bucket) insert(req domain.MatchRequest) {
	idx := b.alloc()
	b.slots[idx] = slot{req: req, prev: nilIdx, next: nilIdx, live: true}
	b.byPlayer[req.PlayerID] = idx

	// walk back from the tail; requests almost always arrive in time order
	after := b.tail
	for after != nilIdx && b.slots[after].req.EnqueuedAt.After(req.EnqueuedAt) {
		after = b.slots[after].prev
	}
	if after == nilIdx {
		b.slots[idx].next = b.head
		if b.head != nilIdx {
			b.slots[b.head].prev = idx
		}
		b.head = idx
		if b.tail == nilIdx {
			b.tail = idx
		}
		return
	}
	next := b.slots[after].next
	b.slots[idx].prev = after
	b.slots[idx].next = next
	b.slots[after].next = idx
	if next != nilIdx {
		b.slots[next].prev = idx
	} else {
		b.tail = idx
	}
}

func (b *bucket) unlink(idx int) {
	s := &b.slots[idx]
	if !s.live {
		return
	}
	if s.prev != nilIdx {
		b.slots[s.prev].next = s.next
	} else {
		b.head = s.next
	}
	if s.next != nilIdx {
		b.slots[s.next].prev = s.prev
	} else {
		b.tail = s.prev
	}
	delete(b.byPlayer, s.req.PlayerID)
	*s = slot{prev: nilIdx, next: nilIdx}
	b.free = append(b.free, idx)
}
