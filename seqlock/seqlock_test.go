package seqlock_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/seqlock"
)

func TestEncodingRoundTrip(t *testing.T) {
	for seq := uint64(0); seq < 4; seq++ {
		require.False(t, seqlock.IsCommitted(seqlock.InProgress(seq)))
		require.True(t, seqlock.IsCommitted(seqlock.Committed(seq)))
		assert.Equal(t, seq, seqlock.SeqOf(seqlock.InProgress(seq)))
		assert.Equal(t, seq, seqlock.SeqOf(seqlock.Committed(seq)))
	}
}

func TestTryReadNotReadyBeforeCommit(t *testing.T) {
	b := make([]byte, 8)
	w := seqlock.At(b)
	w.StoreInProgress(3)
	res := seqlock.TryRead(w, 3, nil)
	assert.Equal(t, seqlock.NotReady, res)
}

func TestTryReadGapOrLateWhenSequenceAdvanced(t *testing.T) {
	b := make([]byte, 8)
	w := seqlock.At(b)
	w.StoreCommitted(5)
	res := seqlock.TryRead(w, 3, nil)
	assert.Equal(t, seqlock.GapOrLate, res)

	w.StoreInProgress(5)
	res = seqlock.TryRead(w, 3, nil)
	assert.Equal(t, seqlock.GapOrLate, res)
}

func TestTryReadReadyWhenStable(t *testing.T) {
	b := make([]byte, 8)
	w := seqlock.At(b)
	w.StoreCommitted(7)
	copied := false
	res := seqlock.TryRead(w, 7, func() { copied = true })
	assert.Equal(t, seqlock.Ready, res)
	assert.True(t, copied)
}

func TestTryReadTornDuringCopyYieldsNotReady(t *testing.T) {
	b := make([]byte, 8)
	w := seqlock.At(b)
	w.StoreCommitted(1)
	res := seqlock.TryRead(w, 1, func() {
		// simulate the writer starting the next slot write mid-copy
		w.StoreInProgress(2)
	})
	assert.Equal(t, seqlock.NotReady, res)
}

// TestConcurrentWriterReadersNeverObserveTornData is a torn-free property
// check (spec §8): a single writer repeatedly commits increasing sequences
// while many readers race to load the word, and no reader ever observes a
// committed sequence lower than one it has already seen.
func TestConcurrentWriterReadersNeverObserveTornData(t *testing.T) {
	b := make([]byte, 8)
	w := seqlock.At(b)

	const iterations = 20000
	var stop int32
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= iterations; seq++ {
			w.StoreInProgress(seq)
			w.StoreCommitted(seq)
		}
		atomic.StoreInt32(&stop, 1)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lastReadySeq := uint64(0)
			for atomic.LoadInt32(&stop) == 0 {
				raw := w.Load()
				if seqlock.IsCommitted(raw) {
					seq := seqlock.SeqOf(raw)
					assert.GreaterOrEqual(t, seq, lastReadySeq)
					lastReadySeq = seq
				}
			}
		}()
	}
	wg.Wait()
}
