package seqlock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/seqlock"
)

func TestSlotHeaderRoundTrip(t *testing.T) {
	b := make([]byte, seqlock.SlotBytes+32)
	in := &seqlock.SlotHeader{
		ValuesLenBytes: 1024,
		PayloadSlot:    7,
		PoolID:         2,
		PayloadOffset:  256,
		TimestampNs:    123456789,
		MetaVersion:    1,
	}
	seqlock.EncodeSlotHeader(b, in)
	out, err := seqlock.DecodeSlotHeader(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTensorRegionRoundTrip(t *testing.T) {
	b := make([]byte, seqlock.SlotBytes+64)
	payload := []byte("tensor-header-bytes")
	region := seqlock.TensorRegion(b, len(payload))
	copy(region, payload)

	assert.Equal(t, len(payload), seqlock.DecodeTensorLen(b))
	assert.Equal(t, payload, seqlock.TensorBytes(b))
}

func TestValidateStrideAlignment(t *testing.T) {
	assert.True(t, seqlock.ValidateStrideAlignment(256, 64))
	assert.True(t, seqlock.ValidateStrideAlignment(128, 0)) // defaults to 64
	assert.False(t, seqlock.ValidateStrideAlignment(100, 64))
}
