package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockDialer struct {
	dialFunc func(ctx context.Context, network, address string) (net.Conn, error)
	calls    atomic.Int32
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	m.calls.Add(1)
	if m.dialFunc != nil {
		return m.dialFunc(ctx, network, address)
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func pollConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollAddr:     "192.168.1.100:22",
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_Success_NoPollAddr(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}
	dialer := &mockDialer{}

	svc := NewWithClients(testLogger(), wolClient, dialer)

	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, int32(0), dialer.calls.Load())

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{})

	cfg := models.WOLConfig{
		MACAddress:  "invalid-mac",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, models.ErrConfiguration)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network error")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, &mockDialer{})

	result, err := svc.Wake(context.Background(), pollConfig())

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_PollImmediateSuccess(t *testing.T) {
	var dialedAddr string
	dialer := &mockDialer{}
	dialer.dialFunc = func(ctx context.Context, network, address string) (net.Conn, error) {
		dialedAddr = address
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	result, err := svc.Wake(context.Background(), pollConfig())

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, "192.168.1.100:22", dialedAddr)
}

func TestWake_PollDelayedSuccess(t *testing.T) {
	dialer := &mockDialer{}
	dialer.dialFunc = func(ctx context.Context, network, address string) (net.Conn, error) {
		if dialer.calls.Load() < 3 {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	result, err := svc.Wake(context.Background(), pollConfig())

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, dialer.calls.Load(), int32(3))
}

func TestWake_PollRealListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()

	svc := NewWithClients(testLogger(), &mockWOLClient{}, &net.Dialer{Timeout: time.Second})

	cfg := pollConfig()
	cfg.PollAddr = listener.Addr().String()

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
}

func TestWake_PollTimeout(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	cfg := pollConfig()
	cfg.Timeout = 50 * time.Millisecond

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, models.ErrTimeout)
}

func TestWake_ContextCancelled(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)

	ctx, cancel := context.WithCancel(context.Background())

	cfg := pollConfig()
	cfg.PollInterval = 100 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Equal(t, context.Canceled, result.Error)
}

func TestWake_WithStabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{})

	stabilizeWait := 50 * time.Millisecond
	cfg := pollConfig()
	cfg.StabilizeWait = stabilizeWait

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg)
	duration := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, duration, stabilizeWait)
}
