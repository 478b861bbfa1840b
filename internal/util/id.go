// Package util provides id and date helpers shared across the bridge.
package util

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxSeq is the largest value of the 12-bit rand_a field used as a sequence.
const maxSeq = 0x0FFF

// IDGenerator issues UUIDv7 strings that sort in issue order, including ids
// issued within one millisecond or after the clock steps backwards.
type IDGenerator struct {
	mu  sync.Mutex
	now func() time.Time
	ms  int64
	seq uint16
}

// NewIDGenerator returns a generator on the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// NewID returns the next id.
func (g *IDGenerator) NewID() string {
	g.mu.Lock()
	ms, seq := g.advance()
	g.mu.Unlock()

	return stampV7(uuid.New(), ms, seq).String()
}

// advance moves the (millisecond, sequence) pair strictly forward. A
// sequence overflow borrows the next millisecond.
func (g *IDGenerator) advance() (int64, uint16) {
	clock := g.now
	if clock == nil {
		clock = time.Now
	}

	switch ms := clock().UnixMilli(); {
	case ms > g.ms:
		g.ms, g.seq = ms, 0
	case g.seq < maxSeq:
		g.seq++
	default:
		g.ms++
		g.seq = 0
	}
	return g.ms, g.seq
}

// stampV7 turns a random (v4) UUID into a v7 one carrying ms and seq. The
// variant bits set by uuid.New are kept.
func stampV7(id uuid.UUID, ms int64, seq uint16) uuid.UUID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ms))
	copy(id[0:6], ts[2:8])

	binary.BigEndian.PutUint16(id[6:8], 0x7000|seq&maxSeq)
	return id
}

var defaultIDs = NewIDGenerator()

// NewID returns an id from the process-wide generator.
func NewID() string {
	return defaultIDs.NewID()
}

// NewRunID returns the identifier stamped on every row written by one batch run.
func NewRunID() string {
	return NewID()
}

// IsValidID reports whether s parses as a UUID.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
