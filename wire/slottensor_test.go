package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/seqlock"
	"github.com/tensorpool/tpool/tensor"
	"github.com/tensorpool/tpool/wire"
)

func TestSlotHeaderMsgRoundTrip(t *testing.T) {
	in := &wire.SlotHeaderMsg{SlotHeader: seqlock.SlotHeader{
		ValuesLenBytes: 1024, PayloadSlot: 3, PoolID: 0, PayloadOffset: 64, TimestampNs: 42, MetaVersion: 1,
	}}
	out, err := wire.DecodeSlotHeaderMsg(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTensorHeaderMsgRoundTrip(t *testing.T) {
	h := tensor.Header{DType: tensor.FLOAT32, MajorOrder: tensor.ROW, NDims: 2}
	h.Dims[0], h.Dims[1] = 2, 3
	in := &wire.TensorHeaderMsg{Header: h}
	out, err := wire.DecodeTensorHeaderMsg(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in.Header, out.Header)
}
