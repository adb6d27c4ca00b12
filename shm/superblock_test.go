package shm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/shm"
)

func TestIsPowerOfTwo(t *testing.T) {
	cases := map[uint32]bool{
		0: false, 1: true, 2: true, 3: false, 1024: true, 1023: false, 4096: true,
	}
	for n, want := range cases {
		assert.Equal(t, want, shm.IsPowerOfTwo(n), "n=%d", n)
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	in := &shm.Superblock{
		LayoutVersion:       1,
		Epoch:               9,
		StreamID:            42,
		RegionType:          shm.PayloadPool,
		PoolID:              1,
		NSlots:              1024,
		StrideBytes:         4096,
		Pid:                 1234,
		StartTimestampNs:    111,
		ActivityTimestampNs: 222,
	}
	b := make([]byte, shm.SuperblockSize)
	shm.EncodeSuperblock(b, in)

	out, err := shm.DecodeSuperblock(b)
	require.NoError(t, err)
	assert.Equal(t, shm.Magic, string(out.Magic[:]))
	assert.Equal(t, in.Epoch, out.Epoch)
	assert.Equal(t, in.StreamID, out.StreamID)
	assert.Equal(t, in.RegionType, out.RegionType)
	assert.Equal(t, in.NSlots, out.NSlots)
	assert.Equal(t, in.StrideBytes, out.StrideBytes)
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	b := make([]byte, shm.SuperblockSize)
	_, err := shm.DecodeSuperblock(b)
	require.Error(t, err)
}

func TestDecodeSuperblockRejectsShortBuffer(t *testing.T) {
	_, err := shm.DecodeSuperblock(make([]byte, shm.SuperblockSize-1))
	require.Error(t, err)
}

func TestRegionSize(t *testing.T) {
	assert.EqualValues(t, shm.SuperblockSize+1024*256, shm.RegionSize(1024, 256))
}

func TestValidateSuperblockChecksExpectedFields(t *testing.T) {
	sb := &shm.Superblock{RegionType: shm.HeaderRing, NSlots: 1024, SlotBytes: 256}
	b := make([]byte, shm.SuperblockSize)
	shm.EncodeSuperblock(b, sb)

	wantStream := uint32(7)
	_, err := shm.ValidateSuperblock(b, &shm.Expected{StreamID: &wantStream})
	require.Error(t, err)

	_, err = shm.ValidateSuperblock(b, nil)
	require.NoError(t, err)
}

func TestValidateSuperblockRejectsNonPowerOfTwoNSlots(t *testing.T) {
	sb := &shm.Superblock{RegionType: shm.HeaderRing, NSlots: 1000, SlotBytes: 256}
	b := make([]byte, shm.SuperblockSize)
	shm.EncodeSuperblock(b, sb)
	_, err := shm.ValidateSuperblock(b, nil)
	require.Error(t, err)
}

func TestValidateSuperblockRejectsHeaderRingWrongSlotBytes(t *testing.T) {
	sb := &shm.Superblock{RegionType: shm.HeaderRing, NSlots: 1024, SlotBytes: 128}
	b := make([]byte, shm.SuperblockSize)
	shm.EncodeSuperblock(b, sb)
	_, err := shm.ValidateSuperblock(b, nil)
	require.Error(t, err)
}

func TestValidateSuperblockRejectsZeroStridePool(t *testing.T) {
	sb := &shm.Superblock{RegionType: shm.PayloadPool, NSlots: 1024, StrideBytes: 0}
	b := make([]byte, shm.SuperblockSize)
	shm.EncodeSuperblock(b, sb)
	_, err := shm.ValidateSuperblock(b, nil)
	require.Error(t, err)
}
