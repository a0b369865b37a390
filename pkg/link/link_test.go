package link

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urmzd/zgw/pkg/frame"
)

// duplexConn pairs a read half and a write half from two separate io.Pipes
// into a single Conn, so two Links can talk to each other in tests without
// a real serial port.
type duplexConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *duplexConn) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplexConn) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d *duplexConn) Close() error {
	_ = d.r.Close()
	return d.w.Close()
}

func newLinkPair(opts1, opts2 []Option) (*Link, *Link) {
	r1, w1 := io.Pipe() // host -> radio
	r2, w2 := io.Pipe() // radio -> host
	host := New(&duplexConn{r: r2, w: w1}, opts1...)
	radio := New(&duplexConn{r: r1, w: w2}, opts2...)
	return host, radio
}

func TestLinkHandshakeCompletes(t *testing.T) {
	host, radio := newLinkPair(nil, nil)
	defer host.Close()
	defer radio.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- radio.Accept(context.Background()) }()

	require.NoError(t, host.Connect(context.Background()))
	require.NoError(t, <-errCh)
	assert.True(t, host.IsConnected())
	assert.True(t, radio.IsConnected())
}

func TestLinkRequestResponseRoundTrip(t *testing.T) {
	radioHandler := func(payload []byte) []byte {
		out := make([]byte, len(payload))
		copy(out, payload)
		out[0]++
		return out
	}

	host, radio := newLinkPair(nil, []Option{WithRequestHandler(radioHandler)})
	defer host.Close()
	defer radio.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- radio.Accept(context.Background()) }()
	require.NoError(t, host.Connect(context.Background()))
	require.NoError(t, <-errCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = radio.Run(ctx) }()
	go func() { _ = host.Run(ctx) }()

	resp, err := host.SendRequest(context.Background(), []byte{41})
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, resp)
}

func TestLinkRequestTimesOutWithNoResponder(t *testing.T) {
	host, radio := newLinkPair(nil, nil)
	defer host.Close()
	defer radio.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- radio.Accept(context.Background()) }()
	require.NoError(t, host.Connect(context.Background()))
	require.NoError(t, <-errCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = radio.Run(ctx) }()
	go func() { _ = host.Run(ctx) }()

	start := time.Now()
	_, err := host.SendRequest(context.Background(), []byte{1})
	assert.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), RequestTimeout)
}

func TestLinkEventDelivery(t *testing.T) {
	received := make(chan frame.Frame, 1)
	host, radio := newLinkPair([]Option{WithEventHandler(func(f frame.Frame) { received <- f })}, nil)
	defer host.Close()
	defer radio.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- radio.Accept(context.Background()) }()
	require.NoError(t, host.Connect(context.Background()))
	require.NoError(t, <-errCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = radio.Run(ctx) }()
	go func() { _ = host.Run(ctx) }()

	radio.PublishEvent([]byte("hello"))

	select {
	case f := <-received:
		assert.Equal(t, []byte("hello"), f.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
