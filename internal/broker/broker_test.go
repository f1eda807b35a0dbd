package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/testutil/testlog"
)

const waitFor = 2 * time.Second

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func serve(t *testing.T, b *ServerBroker) string {
	t.Helper()
	ln := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
		<-done
	})
	return ln.Addr().String()
}

// received collects packets delivered to a listener.
type received struct {
	mu   sync.Mutex
	msgs []packet.Message
	from []Identity
	ch   chan struct{}
}

func newReceived() *received {
	return &received{ch: make(chan struct{}, 64)}
}

func (r *received) Receive(_ context.Context, msg packet.Message, from Broker, _ LocalBroker) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.from = append(r.from, from.Identity())
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func (r *received) await(t *testing.T, n int) []packet.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		r.mu.Lock()
		if len(r.msgs) >= n {
			out := append([]packet.Message(nil), r.msgs...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d packets", n)
		}
	}
}

func dialRaw(t *testing.T, addr string) (net.Conn, *frame.Reader) {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Close() })
	return nc, frame.NewReader(bufio.NewReader(nc), frame.DefaultLimits())
}

func TestIsIOError(t *testing.T) {
	testlog.Start(t)

	require.True(t, IsIOError(fmt.Errorf("wrapped: %w", ErrIO)))
	require.True(t, IsIOError(io.EOF))
	require.True(t, IsIOError(net.ErrClosed))
	require.True(t, IsIOError(&net.OpError{Op: "write", Err: errors.New("broken")}))
	require.False(t, IsIOError(errors.New("listener: bad state")))
	require.False(t, IsIOError(nil))
}

func TestBackoffDelay(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
	require.Equal(t, 250*time.Millisecond, cfg.Delay(1, nil))
	require.Equal(t, 500*time.Millisecond, cfg.Delay(2, nil))
	require.Equal(t, time.Second, cfg.Delay(3, nil))
	require.Equal(t, 5*time.Second, cfg.Delay(9, nil))

	cfg.Jitter = true
	got := cfg.Delay(2, rand.New(rand.NewSource(7)))
	require.GreaterOrEqual(t, got, 250*time.Millisecond)
	require.Less(t, got, 750*time.Millisecond)
}

func TestListenerSetSnapshotIsStable(t *testing.T) {
	testlog.Start(t)

	var s listenerSet
	a := s.add(ListenerFunc(func(context.Context, packet.Message, Broker, LocalBroker) error { return nil }))
	before := s.snapshot()
	s.add(ListenerFunc(func(context.Context, packet.Message, Broker, LocalBroker) error { return nil }))
	s.remove(a)

	require.Len(t, before, 1)
	require.Equal(t, a, before[0].id)
	after := s.snapshot()
	require.Len(t, after, 1)
	require.NotEqual(t, a, after[0].id)
}

func TestClientServerRoundTrip(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("controller", nil)
	onServer := newReceived()
	server.AddListener(onServer)
	addr := serve(t, server)

	client := NewClientBroker(ClientConfig{Name: "throttle", Address: addr}, nil)
	onClient := newReceived()
	client.AddListener(onClient)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Send(ctx, nil, packet.NewThrottle(1, 3, 50, true)))
	got := onServer.await(t, 1)
	require.Equal(t, packet.KindThrottle, got[0].Kind())

	onServer.mu.Lock()
	from := onServer.from[0]
	onServer.mu.Unlock()
	require.Equal(t, client.Identity(), from)

	require.NoError(t, server.Send(ctx, Remote(from), packet.NewSuccess()))
	back := onClient.await(t, 1)
	require.Equal(t, packet.KindSuccess, back[0].Kind())
}

func TestClientRejectsForeignReceiver(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("controller", nil)
	addr := serve(t, server)
	client := NewClientBroker(ClientConfig{Address: addr}, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	err := client.Send(context.Background(), Remote("10.0.0.9:2560"), packet.NewPower(true))
	require.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, client.Send(context.Background(), Remote(Counterpart), packet.NewPower(true)))
	require.NoError(t, client.Send(context.Background(), client.Peer(), packet.NewPower(false)))
}

func TestClientConnectGivesUp(t *testing.T) {
	testlog.Start(t)

	ln := listen(t)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewClientBroker(ClientConfig{
		Address:     addr,
		MaxAttempts: 2,
		Backoff:     BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1},
	}, nil)
	err := client.Connect(context.Background())
	require.ErrorIs(t, err, ErrIO)

	// A failed attempt leaves the broker free to try again.
	err = client.Connect(context.Background())
	require.ErrorIs(t, err, ErrIO)
}

func TestClientConcurrentConnectAttachesOnce(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("controller", nil)
	addr := serve(t, server)
	client := NewClientBroker(ClientConfig{Address: addr}, nil)
	t.Cleanup(func() { _ = client.Close() })

	const callers = 8
	errs := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			errs <- client.Connect(context.Background())
		}()
	}
	start.Done()

	var ok, rejected int
	for i := 0; i < callers; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUnsupported):
			rejected++
		default:
			t.Fatalf("unexpected connect error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, callers-1, rejected)
	require.Eventually(t, func() bool { return len(server.Peers()) == 1 }, waitFor, 10*time.Millisecond)
	require.Never(t, func() bool { return len(server.Peers()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestClientWaitReturnsOnDisconnect(t *testing.T) {
	testlog.Start(t)

	ln := listen(t)
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
	}()

	client := NewClientBroker(ClientConfig{Address: ln.Addr().String()}, nil)
	require.NoError(t, client.Connect(context.Background()))

	peer := <-accepted
	require.NoError(t, peer.Close())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := client.Wait(ctx)
	require.ErrorIs(t, err, io.EOF)
	select {
	case <-client.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}

func TestLoopDropsInvalidAndUnknownPackets(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("accessory", nil)
	got := newReceived()
	server.AddListener(got)
	addr := serve(t, server)

	nc, _ := dialRaw(t, addr)
	_, err := io.WriteString(nc, "<f 3 100><W 1 2><a 12 3 1>")
	require.NoError(t, err)

	msgs := got.await(t, 1)
	require.Len(t, msgs, 1)
	require.Equal(t, packet.KindAccessory, msgs[0].Kind())
}

func TestListenerFailurePolicy(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("accessory", nil)
	var calls atomic.Int32
	server.AddListener(ListenerFunc(func(_ context.Context, msg packet.Message, _ Broker, _ LocalBroker) error {
		calls.Add(1)
		if msg.Kind() == packet.KindPower {
			return fmt.Errorf("downstream: %w", ErrIO)
		}
		return errors.New("not interested")
	}))
	after := newReceived()
	server.AddListener(after)
	addr := serve(t, server)

	nc, _ := dialRaw(t, addr)
	_, err := io.WriteString(nc, "<O><X>")
	require.NoError(t, err)
	after.await(t, 2)

	_, err = io.WriteString(nc, "<p 1>")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(server.Peers()) == 0 }, waitFor, 10*time.Millisecond)
	require.Equal(t, int32(3), calls.Load())
	after.mu.Lock()
	require.Len(t, after.msgs, 2)
	after.mu.Unlock()

	_ = nc.SetReadDeadline(time.Now().Add(waitFor))
	_, err = nc.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestServerDialsUnknownPeerOnce(t *testing.T) {
	testlog.Start(t)

	ln := listen(t)
	t.Cleanup(func() { _ = ln.Close() })
	var accepts atomic.Int32
	frames := make(chan packet.Packet, 16)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			go func() {
				r := frame.NewReader(nc, frame.DefaultLimits())
				for {
					p, err := r.ReadPacket()
					if err != nil {
						return
					}
					frames <- p
				}
			}()
		}
	}()

	server := NewServerBroker("accessory", nil)
	t.Cleanup(func() { _ = server.Close() })
	target := Remote(ln.Addr().String())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- server.Send(context.Background(), target, packet.NewTurnoutThrow(packet.RegistrationID(i), true))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 8; i++ {
		select {
		case p := <-frames:
			require.Equal(t, byte('T'), p.Type())
		case <-time.After(waitFor):
			t.Fatalf("missing frame %d", i)
		}
	}
	require.Equal(t, int32(1), accepts.Load())
	require.Equal(t, []Identity{target.Identity()}, server.Peers())
}

func TestServerSendFailureForgetsPeer(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("accessory", nil)
	addr := serve(t, server)

	nc, _ := dialRaw(t, addr)
	require.Eventually(t, func() bool { return len(server.Peers()) == 1 }, waitFor, 10*time.Millisecond)
	peer := server.Peers()[0]

	c, ok := server.Conn(peer)
	require.True(t, ok)
	require.NoError(t, c.nc.Close())
	require.NoError(t, nc.Close())

	err := server.Send(context.Background(), Remote(peer), packet.NewPower(true))
	require.Error(t, err)
	require.True(t, IsIOError(err))
	_, ok = server.Conn(peer)
	require.False(t, ok)
}

func TestServerRequiresReceiver(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("controller", nil)
	err := server.Send(context.Background(), nil, packet.NewPower(true))
	require.ErrorIs(t, err, ErrNoReceiver)
}

func TestAcceptHookWritesBeforeVisibility(t *testing.T) {
	testlog.Start(t)

	var server *ServerBroker
	var visibleDuringHook atomic.Bool
	var stateDuringHook atomic.Int32
	server = NewServerBroker("accessory", nil, WithAcceptHook(func(_ context.Context, c *Conn) error {
		if _, ok := server.Conn(c.Remote()); ok {
			visibleDuringHook.Store(true)
		}
		stateDuringHook.Store(int32(c.State()))
		return c.Write(packet.NewInfo("hello"))
	}))
	addr := serve(t, server)

	_, r := dialRaw(t, addr)
	p, err := r.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, "<i hello>", p.String())
	require.False(t, visibleDuringHook.Load())
	require.Equal(t, StateConnecting, State(stateDuringHook.Load()))

	require.Eventually(t, func() bool { return len(server.Peers()) == 1 }, waitFor, 10*time.Millisecond)
	c, ok := server.Conn(server.Peers()[0])
	require.True(t, ok)
	require.Equal(t, StateOpen, c.State())
}

func TestAcceptHookErrorRejectsPeer(t *testing.T) {
	testlog.Start(t)

	server := NewServerBroker("accessory", nil, WithAcceptHook(func(context.Context, *Conn) error {
		return errors.New("no room")
	}))
	addr := serve(t, server)

	nc, _ := dialRaw(t, addr)
	_ = nc.SetReadDeadline(time.Now().Add(waitFor))
	_, err := nc.Read(make([]byte, 1))
	require.Error(t, err)
	require.Empty(t, server.Peers())
}

func TestConnCloseStates(t *testing.T) {
	testlog.Start(t)

	a, b := net.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	ep := newEndpoint("pipe", nil)
	var terminated atomic.Bool
	c := newConn(context.Background(), a, "pipe", ep, nil, func(*Conn, error) { terminated.Store(true) })
	require.Equal(t, StateConnecting, c.State())

	require.NoError(t, c.Close())
	<-c.Done()
	require.Equal(t, StateClosed, c.State())
	require.True(t, terminated.Load())
	require.ErrorIs(t, c.Write(packet.NewSuccess()), ErrClosed)
}
