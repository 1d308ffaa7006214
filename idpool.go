package ddapm

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// idPool manages a pool of pre-generated identifiers to amortize
// crypto/rand overhead on the span-open path.
type idPool struct {
	ids    chan uint64
	stopCh chan struct{}
	mu     sync.Mutex
	closed bool
}

func newIDPool(capacity int) *idPool {
	pool := &idPool{
		ids:    make(chan uint64, capacity),
		stopCh: make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// Get retrieves an id from the pool or generates one if the pool is empty.
func (p *idPool) Get() uint64 {
	select {
	case id := <-p.ids:
		return id
	default:
		// Pool empty, generate directly (fallback for burst load).
		return randomID()
	}
}

// refill maintains the pool by generating ids in the background.
func (p *idPool) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- randomID():
		}
	}
}

// Close shuts down the id pool gracefully.
func (p *idPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}

// randomID returns a nonzero 64-bit identifier. Unique within a trace with
// overwhelming probability; no global coordination.
func randomID() uint64 {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// Fallback to a time-based id if crypto/rand fails.
			return uint64(time.Now().UnixNano()) | 1
		}
		if id := binary.BigEndian.Uint64(buf[:]); id != 0 {
			return id
		}
	}
}
