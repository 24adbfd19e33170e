package idgen

import (
	"errors"
	"sync"
	"time"
)

const (
	// Configuration for 64-bit ID:
	// 1 bit: Unused (sign bit)
	// 41 bits: Timestamp (milliseconds) - gives ~69 years
	// 10 bits: Node ID - gives 1024 nodes
	// 12 bits: Sequence - gives 4096 IDs per millisecond per node

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Custom Epoch (2024-01-01 00:00:00 UTC)
	Epoch = 1704067200000
)

var (
	ErrNodeIDTooLarge = errors.New("node ID too large")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Option tunes a Snowflake generator.
type Option func(*Snowflake)

// WithMaxDrift lets Next wait out clock regressions up to d instead of
// failing with ErrClockMovedBack.
func WithMaxDrift(d time.Duration) Option {
	return func(s *Snowflake) {
		s.maxDrift = d.Milliseconds()
	}
}

// Snowflake generates unique, time-ordered 64-bit IDs.
type Snowflake struct {
	mu       sync.Mutex
	clock    Clock
	nodeID   int64
	lastTime int64
	sequence int64
	maxDrift int64
}

// New creates a new Snowflake ID generator.
func New(nodeID int64, clock Clock, opts ...Option) (*Snowflake, error) {
	if nodeID < 0 || nodeID > int64(maxNodeID) {
		return nil, ErrNodeIDTooLarge
	}

	if clock == nil {
		clock = &SystemClock{}
	}

	s := &Snowflake{
		clock:    clock,
		nodeID:   nodeID,
		lastTime: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next generates the next unique ID.
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if now < s.lastTime {
		if s.lastTime-now > s.maxDrift {
			return 0, ErrClockMovedBack
		}
		now = s.waitUntil(s.lastTime)
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & int64(maxSequence)
		if s.sequence == 0 {
			// Sequence exhausted, wait for next millisecond
			now = s.waitUntil(s.lastTime + 1)
		}
	} else {
		s.sequence = 0
	}

	s.lastTime = now

	id := ((now - Epoch) << timestampShift) |
		(s.nodeID << nodeShift) |
		(s.sequence)

	return id, nil
}

func (s *Snowflake) waitUntil(target int64) int64 {
	now := s.clock.Now()
	for now < target {
		time.Sleep(time.Duration(target-now) * time.Millisecond / 2)
		now = s.clock.Now()
	}
	return now
}
