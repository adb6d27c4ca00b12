package fabric_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/fabric"
)

func TestTCPRoundTripsMultiplexedStreams(t *testing.T) {
	ln, err := fabric.ListenTCP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	serverCh := make(chan *fabric.TCP, 1)
	go func() {
		srv, err := fabric.AcceptTCP(ln, nil)
		require.NoError(t, err)
		serverCh <- srv
	}()

	client, err := fabric.DialTCP(ln.Addr().String(), nil)
	require.NoError(t, err)
	defer client.Close()

	server := <-serverCh
	defer server.Close()

	serverSubA := server.CreateSubscription(1)
	serverSubB := server.CreateSubscription(2)
	clientPubA := client.CreatePublication(1)
	clientPubB := client.CreatePublication(2)

	require.Equal(t, fabric.OfferOK, clientPubA.Offer([]byte("hello-a")))
	require.Equal(t, fabric.OfferOK, clientPubB.Offer([]byte("hello-b")))

	require.Eventually(t, func() bool {
		return serverSubA.Poll(func([]byte) {}, 1) > 0
	}, time.Second, time.Millisecond)

	var gotB string
	require.Eventually(t, func() bool {
		return serverSubB.Poll(func(b []byte) { gotB = string(b) }, 1) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, "hello-b", gotB)
}

func TestTCPOfferAfterCloseFails(t *testing.T) {
	ln, err := fabric.ListenTCP("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	client, err := fabric.DialTCP(ln.Addr().String(), nil)
	require.NoError(t, err)

	pub := client.CreatePublication(1)
	require.NoError(t, client.Close())
	assert.Eventually(t, func() bool {
		return pub.Offer([]byte("x")) == fabric.OfferClosed
	}, time.Second, time.Millisecond)
}
