package driver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/driver"
	"github.com/tensorpool/tpool/fabric"
	"github.com/tensorpool/tpool/wire"
)

// harness wires a Client to a Server through two loopback streams, pumping
// the driver side exactly the way cmd/tp-driverd's poll loop does.
type harness struct {
	server      *driver.Server
	requestSub  fabric.Subscription
	responsePub fabric.Publication
}

func newHarness(t *testing.T) (*driver.Client, *harness) {
	t.Helper()
	lb := fabric.NewLoopback(8)
	clientPub := lb.CreatePublication(1)
	requestSub := lb.CreateSubscription(1)
	responsePub := lb.CreatePublication(2)
	clientSub := lb.CreateSubscription(2)

	c := driver.NewClient(clientPub, clientSub, 42, 2*time.Second)
	s := driver.NewServer(driver.ServerConfig{KeepaliveIntervalNs: int64(time.Second), LeaseExpiryGraceIntvs: 3})
	return c, &harness{server: s, requestSub: requestSub, responsePub: responsePub}
}

// pump drains every pending request, dispatches it into the server, and
// offers back any response -- one full driver-loop tick.
func (h *harness) pump() {
	h.requestSub.Poll(func(payload []byte) {
		if out := h.server.Dispatch(payload); out != nil {
			h.responsePub.Offer(out)
		}
	}, 16)
}

func TestClientAttachKeepaliveDetachLifecycle(t *testing.T) {
	c, h := newHarness(t)

	tok, err := c.AttachAsync(1, wire.RoleProducer, 0, wire.ExistingOrCreate, wire.HugepagesUnspecified, wire.NullU32)
	require.NoError(t, err)

	h.pump()
	require.Equal(t, 1, c.Poll(16))

	res, resp := c.AttachPoll(tok)
	require.Equal(t, 1, res)
	require.Equal(t, wire.AttachOK, resp.Code)
	assert.NotNil(t, c.Lease())

	require.NoError(t, c.Keepalive(time.Now().UnixNano()))
	h.pump() // keepalive produces no response, just drains cleanly

	dtok, err := c.DetachAsync()
	require.NoError(t, err)
	h.pump()
	require.Equal(t, 1, c.Poll(16))

	dres, dresp := c.DetachPoll(dtok)
	require.Equal(t, 1, dres)
	assert.Equal(t, wire.CtlOK, dresp.Code)
}

func TestClientAttachSyncReturnsRejectionAsError(t *testing.T) {
	c, h := newHarness(t)
	h.server.RegisterStream(driver.StreamConfig{StreamID: 1, LayoutVersion: 5})

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			h.pump()
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := c.Attach(1, wire.RoleConsumer, 1 /* wrong layout version */, wire.RequireExisting, wire.HugepagesUnspecified, wire.NullU32)
	require.Error(t, err)
}

func TestKeepaliveWithoutAnActiveLeaseFails(t *testing.T) {
	c, _ := newHarness(t)
	require.Error(t, c.Keepalive(0))
}

func TestDetachWithoutAnActiveLeaseFails(t *testing.T) {
	c, _ := newHarness(t)
	_, err := c.DetachAsync()
	require.Error(t, err)
}
