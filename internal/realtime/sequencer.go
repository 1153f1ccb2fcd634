package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultGapWait   = 250 * time.Millisecond
	defaultIdleEvict = 10 * time.Minute

	// Seq allocation starts at 1, so a seq-1 submission is always the head
	// of its conversation and never needs to wait for a predecessor.
	firstSeq = 1
)

// Sequencer releases fanout callbacks in allocated seq order per
// conversation. Concurrent sends may persist out of order; subscribers must
// still observe events ordered by seq. A send that allocated a seq and then
// failed to persist leaves a permanent gap, so strict gating waits at most
// gapWait before skipping ahead — fanout can be delayed by a crashed sender
// but never deadlocked by one. Streams idle past idleAfter are evicted; the
// next submission re-enters the cold-start path.
type Sequencer struct {
	mu        sync.Mutex
	streams   map[string]*stream
	gapWait   time.Duration
	idleAfter time.Duration
	log       zerolog.Logger
}

type stream struct {
	mu        sync.Mutex
	next      int64
	pending   map[int64]func()
	timer     *time.Timer
	idle      *time.Timer
	gone      bool
	gapWait   time.Duration
	idleAfter time.Duration
	evict     func()
	log       zerolog.Logger
}

// NewSequencer builds a sequencer with the given gap wait; zero selects the
// default.
func NewSequencer(gapWait time.Duration, logger zerolog.Logger) *Sequencer {
	if gapWait <= 0 {
		gapWait = defaultGapWait
	}
	return &Sequencer{
		streams:   make(map[string]*stream),
		gapWait:   gapWait,
		idleAfter: defaultIdleEvict,
		log:       logger.With().Str("component", "fanout_sequencer").Logger(),
	}
}

// Submit hands over the emit callback for (conversation, seq). Callbacks for
// one conversation run serially and in ascending seq order; different
// conversations never wait on each other. A seq below the release cursor
// (late duplicate, or one skipped after a gap) is emitted immediately —
// delivery is at-least-once and receivers dedupe by message id.
//
// While the cursor is unknown (fresh stream, or one evicted after idling)
// only seq 1 releases immediately; any other seq is held for up to gapWait in
// case a lower predecessor is still in flight.
func (s *Sequencer) Submit(conversationID string, seq int64, emit func()) {
	for {
		st := s.stream(conversationID)

		st.mu.Lock()
		if st.gone {
			// Evicted between lookup and lock; fetch the replacement.
			st.mu.Unlock()
			continue
		}
		st.submitLocked(seq, emit)
		st.rearmIdleLocked()
		st.mu.Unlock()
		return
	}
}

func (st *stream) submitLocked(seq int64, emit func()) {
	switch {
	case st.next == 0 && seq == firstSeq:
		emit()
		st.next = firstSeq + 1
		st.drainLocked()
	case st.next == 0:
		// Cursor unknown: releasing now could reorder a racing predecessor,
		// so hold until the head arrives or the gap wait expires.
		st.pending[seq] = emit
		st.armLocked()
	case seq < st.next:
		emit()
	case seq == st.next:
		emit()
		st.next = seq + 1
		st.drainLocked()
	default:
		st.pending[seq] = emit
		st.armLocked()
	}
}

func (s *Sequencer) stream(conversationID string) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[conversationID]
	if !ok {
		st = &stream{
			pending:   make(map[int64]func()),
			gapWait:   s.gapWait,
			idleAfter: s.idleAfter,
			log:       s.log.With().Str("conversation_id", conversationID).Logger(),
		}
		st.evict = func() { s.evictIdle(conversationID, st) }
		s.streams[conversationID] = st
	}
	return st
}

// evictIdle drops a stream that has sat quiet for idleAfter. The cursor is
// lost with it, which is fine: the next submission goes through the same
// cold-start hold a process restart does.
func (s *Sequencer) evictIdle(conversationID string, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.pending) > 0 || st.timer != nil {
		return
	}
	if current, ok := s.streams[conversationID]; ok && current == st {
		delete(s.streams, conversationID)
		st.gone = true
	}
}

func (st *stream) drainLocked() {
	for {
		emit, ok := st.pending[st.next]
		if !ok {
			break
		}
		delete(st.pending, st.next)
		emit()
		st.next++
	}

	if len(st.pending) == 0 && st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (st *stream) armLocked() {
	if st.timer != nil {
		return
	}
	st.timer = time.AfterFunc(st.gapWait, st.advancePastGap)
}

// rearmIdleLocked restarts the idle clock after activity. A stream with work
// still buffered keeps its idle timer off; the gap timer owns it until the
// buffer drains.
func (st *stream) rearmIdleLocked() {
	if st.idle != nil {
		st.idle.Stop()
		st.idle = nil
	}
	if len(st.pending) == 0 && st.timer == nil && st.evict != nil {
		st.idle = time.AfterFunc(st.idleAfter, st.evict)
	}
}

// advancePastGap fires when the expected seq never arrived. The release
// cursor jumps to the lowest buffered seq and draining resumes.
func (st *stream) advancePastGap() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.timer = nil
	if len(st.pending) == 0 {
		st.rearmIdleLocked()
		return
	}

	lowest := int64(0)
	for seq := range st.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}

	if st.next != 0 {
		st.log.Warn().Int64("expected_seq", st.next).Int64("resumed_seq", lowest).Msg("sequence gap timed out, resuming fanout")
	}
	st.next = lowest
	st.drainLocked()

	if len(st.pending) > 0 {
		st.armLocked()
	}
	st.rearmIdleLocked()
}
