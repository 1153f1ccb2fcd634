package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type seqRecorder struct {
	mu   sync.Mutex
	seen []int64
}

func (r *seqRecorder) record(seq int64) func() {
	return func() {
		r.mu.Lock()
		r.seen = append(r.seen, seq)
		r.mu.Unlock()
	}
}

func (r *seqRecorder) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen...)
}

func TestSequencerReleasesInOrder(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	sequencer.Submit("conv-1", 2, recorder.record(2))
	sequencer.Submit("conv-1", 3, recorder.record(3))

	require.Equal(t, []int64{1, 2, 3}, recorder.snapshot())
}

func TestSequencerHoldsOutOfOrderSubmissions(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	sequencer.Submit("conv-1", 3, recorder.record(3))
	sequencer.Submit("conv-1", 4, recorder.record(4))
	require.Equal(t, []int64{1}, recorder.snapshot())

	// The missing predecessor releases everything buffered behind it.
	sequencer.Submit("conv-1", 2, recorder.record(2))
	require.Equal(t, []int64{1, 2, 3, 4}, recorder.snapshot())
}

func TestSequencerSkipsPermanentGapAfterWait(t *testing.T) {
	sequencer := NewSequencer(20*time.Millisecond, zerolog.Nop())
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	// Seq 2 was allocated by a send that failed to persist; it never arrives.
	sequencer.Submit("conv-1", 3, recorder.record(3))

	require.Eventually(t, func() bool {
		seen := recorder.snapshot()
		return len(seen) == 2 && seen[1] == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSequencerLateSeqEmitsImmediately(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	sequencer.Submit("conv-1", 2, recorder.record(2))
	sequencer.Submit("conv-1", 3, recorder.record(3))

	// A duplicate below the cursor goes straight out; receivers dedupe by
	// message id.
	sequencer.Submit("conv-1", 2, recorder.record(22))
	require.Equal(t, []int64{1, 2, 3, 22}, recorder.snapshot())
}

func TestSequencerHoldsColdStartUntilHeadArrives(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	recorder := &seqRecorder{}

	// Two concurrent sends persisting out of order on a brand-new
	// conversation: seq 2 reaches fanout first and must wait for seq 1.
	sequencer.Submit("conv-1", 2, recorder.record(2))
	require.Empty(t, recorder.snapshot())

	sequencer.Submit("conv-1", 1, recorder.record(1))
	require.Equal(t, []int64{1, 2}, recorder.snapshot())
}

func TestSequencerColdStartReleasesAfterGapWait(t *testing.T) {
	sequencer := NewSequencer(20*time.Millisecond, zerolog.Nop())
	recorder := &seqRecorder{}

	// After a restart the cursor is unknown; a mid-stream seq is held only
	// for the gap wait, then flows.
	sequencer.Submit("conv-1", 7, recorder.record(7))
	require.Empty(t, recorder.snapshot())

	require.Eventually(t, func() bool {
		seen := recorder.snapshot()
		return len(seen) == 1 && seen[0] == 7
	}, time.Second, 5*time.Millisecond)

	// The cursor is established now; the successor releases immediately.
	sequencer.Submit("conv-1", 8, recorder.record(8))
	seen := recorder.snapshot()
	require.Equal(t, []int64{7, 8}, seen)
}

func TestSequencerEvictsIdleStreams(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	sequencer.idleAfter = 20 * time.Millisecond
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	require.Equal(t, []int64{1}, recorder.snapshot())

	require.Eventually(t, func() bool {
		sequencer.mu.Lock()
		defer sequencer.mu.Unlock()
		return len(sequencer.streams) == 0
	}, time.Second, 5*time.Millisecond)

	// A fresh submission after eviction still works; seq 1 is always a head.
	sequencer.Submit("conv-1", 1, recorder.record(11))
	require.Equal(t, []int64{1, 11}, recorder.snapshot())
}

func TestSequencerConversationsAreIndependent(t *testing.T) {
	sequencer := NewSequencer(time.Second, zerolog.Nop())
	recorder := &seqRecorder{}

	sequencer.Submit("conv-1", 1, recorder.record(1))
	sequencer.Submit("conv-2", 1, recorder.record(100))
	sequencer.Submit("conv-1", 3, recorder.record(3))
	sequencer.Submit("conv-2", 2, recorder.record(200))

	// conv-2 keeps flowing even while conv-1 waits on its gap.
	require.Equal(t, []int64{1, 100, 200}, recorder.snapshot())
}
