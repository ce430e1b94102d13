package tunnel

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Tunnel forwards connections accepted on a local listener to a remote address
// through an SSH client. It is safe to Close more than once.
type Tunnel struct {
	listener net.Listener
	client   SSHClient
	remote   string
	logger   zerolog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	once   sync.Once
	err    error
	closed bool
}

func newTunnel(listener net.Listener, client SSHClient, remote string, logger zerolog.Logger) *Tunnel {
	return &Tunnel{
		listener: listener,
		client:   client,
		remote:   remote,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Port returns the bound local port.
func (t *Tunnel) Port() int {
	if addr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close stops accepting connections, drops active forwards and closes the SSH client.
func (t *Tunnel) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		for conn := range t.conns {
			_ = conn.Close()
		}
		t.mu.Unlock()

		err := t.listener.Close()
		if cerr := t.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.wg.Wait()
		t.err = err

		t.logger.Info().Msg("SSH tunnel closed")
	})
	return t.err
}

func (t *Tunnel) start() {
	t.wg.Add(1)
	go t.serve()
}

func (t *Tunnel) serve() {
	defer t.wg.Done()

	for {
		local, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Error().Err(err).Msg("tunnel accept failed")
			}
			return
		}

		if !t.track(local) {
			_ = local.Close()
			return
		}

		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer t.untrack(local)

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.logger.Error().Err(err).Str("remote", t.remote).Msg("failed to open forwarded connection")
		return
	}
	defer func() { _ = remote.Close() }()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)

	// Either side finishing ends the forward; the deferred closes unblock the other copy.
	<-done
}

func (t *Tunnel) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *Tunnel) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}
