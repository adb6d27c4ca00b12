package registry

import "github.com/tensorpool/tpool/wire"

// Policy is the aggregated progress policy applied uniformly to the
// producer's progress emission decision (spec §4.4 aggregate_progress_policy).
type Policy struct {
	IntervalUs      uint32
	BytesDelta      uint64
	MajorDeltaUnits int64
}

// AggregateProgressPolicy takes the minimum of each field across entries
// with SupportsProgress=true and a non-null value for that field,
// defaulting to 250us / 64KiB / 1 major unit when no consumer constrains a
// field.
func AggregateProgressPolicy(entries []*Entry) Policy {
	p := Policy{
		IntervalUs:      defaultProgressIntervalUs,
		BytesDelta:      defaultProgressBytesDelta,
		MajorDeltaUnits: defaultProgressMajorDeltaUnits,
	}
	haveInterval, haveBytes, haveMajor := false, false, false
	for _, e := range entries {
		if !e.SupportsProgress {
			continue
		}
		if e.ProgressIntervalUs != wire.NullU32 {
			if !haveInterval || e.ProgressIntervalUs < p.IntervalUs {
				p.IntervalUs = e.ProgressIntervalUs
				haveInterval = true
			}
		}
		if e.ProgressBytesDelta != wire.NullU64 {
			if !haveBytes || e.ProgressBytesDelta < p.BytesDelta {
				p.BytesDelta = e.ProgressBytesDelta
				haveBytes = true
			}
		}
		// ProgressMajorDeltaUnits is stored verbatim as a signed int64
		// (open question decided in SPEC_FULL.md: no sentinel, any value
		// including 0 is meaningful, so every supporting consumer
		// participates in this reduction).
		if !haveMajor || e.ProgressMajorDeltaUnits < p.MajorDeltaUnits {
			p.MajorDeltaUnits = e.ProgressMajorDeltaUnits
			haveMajor = true
		}
	}
	return p
}

// ProgressState is the producer's mutable per-stream progress-emission
// cursor, advanced only when ShouldPublishProgress decides to publish.
type ProgressState struct {
	LastTimestampNs int64
	LastBytes       uint64
	LastMajorUnit   int64
}

// ShouldPublishProgress implements spec §4.4's should_publish_progress:
// true if the interval elapsed, bytes grew by at least bytesDelta, or the
// major unit advanced by at least majorDeltaUnits. On true it advances the
// state.
func ShouldPublishProgress(state *ProgressState, policy Policy, nowNs int64, bytesFilled uint64, majorUnit int64) bool {
	intervalNs := int64(policy.IntervalUs) * 1000
	byInterval := nowNs-state.LastTimestampNs >= intervalNs
	byBytes := bytesFilled >= state.LastBytes && bytesFilled-state.LastBytes >= policy.BytesDelta
	byMajor := majorUnit-state.LastMajorUnit >= policy.MajorDeltaUnits

	if !byInterval && !byBytes && !byMajor {
		return false
	}
	state.LastTimestampNs = nowNs
	state.LastBytes = bytesFilled
	state.LastMajorUnit = majorUnit
	return true
}
