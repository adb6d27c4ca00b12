package trace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tensorpool/tpool/trace"
)

func TestHistoryValidateMatchesMostRecentRecord(t *testing.T) {
	h := trace.NewHistory(16)
	h.Record(3, 3, 999)
	assert.True(t, h.Validate(16, 3, 999))
}

func TestHistoryValidateRejectsStaleTraceID(t *testing.T) {
	h := trace.NewHistory(16)
	h.Record(3, 3, 999)
	h.Record(3, 19, 1000) // next wrap of the same slot
	assert.False(t, h.Validate(16, 3, 999))
	assert.True(t, h.Validate(16, 19, 1000))
}

func TestHistoryValidateRejectsUnrecordedSlot(t *testing.T) {
	h := trace.NewHistory(16)
	assert.False(t, h.Validate(16, 0, 1))
}
