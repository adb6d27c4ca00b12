package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/wire"
)

func TestShmAttachRequestRoundTrip(t *testing.T) {
	in := &wire.ShmAttachRequest{
		CorrelationID: 1, StreamID: 9, ClientID: 2, Role: wire.RoleProducer,
		ExpectedLayoutVersion: 1, PublishMode: wire.ExistingOrCreate,
		RequireHugepages: wire.HugepagesRequired, DesiredNodeID: wire.NullU32,
	}
	out, err := wire.DecodeShmAttachRequest(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestShmAttachResponseRoundTrip(t *testing.T) {
	in := &wire.ShmAttachResponse{
		CorrelationID: 1, Code: wire.AttachOK, LeaseID: 77,
		LeaseExpiryTimestampNs: 999, StreamID: 9, Epoch: 1, LayoutVersion: 1,
		HeaderNSlots: 1024, HeaderSlotBytes: 256, NodeID: 3,
		HeaderRegionURI: "shm:file?path=/dev/shm/h",
		Pools:           []wire.PoolDescriptor{{PoolID: 0, StrideBytes: 4096, URI: "shm:file?path=/dev/shm/p0"}},
	}
	out, err := wire.DecodeShmAttachResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestShmAttachResponseRejectedRoundTrip(t *testing.T) {
	in := &wire.ShmAttachResponse{CorrelationID: 1, Code: wire.AttachRejected, ErrorMessage: "layout_version mismatch", Pools: []wire.PoolDescriptor{}}
	out, err := wire.DecodeShmAttachResponse(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestShmKeepaliveRoundTrip(t *testing.T) {
	in := &wire.ShmKeepalive{LeaseID: 77, NowNs: 123}
	out, err := wire.DecodeShmKeepalive(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestShmDetachRequestResponseRoundTrip(t *testing.T) {
	req := &wire.ShmDetachRequest{CorrelationID: 5, LeaseID: 77}
	outReq, err := wire.DecodeShmDetachRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, outReq)

	resp := &wire.ShmDetachResponse{CorrelationID: 5, Code: wire.CtlOK}
	outResp, err := wire.DecodeShmDetachResponse(resp.Encode())
	require.NoError(t, err)
	assert.Equal(t, resp, outResp)
}

func TestShmLeaseRevokedRoundTrip(t *testing.T) {
	in := &wire.ShmLeaseRevoked{LeaseID: 77, Reason: wire.ReasonExpired}
	out, err := wire.DecodeShmLeaseRevoked(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestShmDriverShutdownRoundTrip(t *testing.T) {
	in := &wire.ShmDriverShutdown{Reason: "operator requested shutdown"}
	out, err := wire.DecodeShmDriverShutdown(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
