// Package tunnel provisions the network path to the database endpoint, either
// directly or through an SSH local port forward.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/couchdb-backup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultConnectTimeout = 30 * time.Second

// Service defines the interface for transport provisioning.
type Service interface {
	Acquire(ctx context.Context, cfg models.BackupConfig) (string, Handle, error)
	TestConnection(ctx context.Context, cfg models.BackupConfig) error
}

// Handle is a live forward that must be released once the run is over.
type Handle interface {
	Close() error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Impl implements the tunnel Service interface.
type Impl struct {
	clientFactory ClientFactory
	listen        func(network, addr string) (net.Listener, error)
	logger        zerolog.Logger
}

// New creates a new tunnel service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		listen:        net.Listen,
		logger:        logger,
	}
}

// NewWithClientFactory creates a new tunnel service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		listen:        net.Listen,
		logger:        logger,
	}
}

// DirectBaseURL builds the base address for a direct connection to the endpoint.
func DirectBaseURL(cfg models.CouchDBConfig) string {
	return fmt.Sprintf("%s://%s", cfg.Protocol, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
}

// ValidateCredentials checks that exactly one credential variant is configured.
func ValidateCredentials(cfg models.SSHTunnelConfig) error {
	return cfg.ValidateCredentials()
}

// Acquire returns the base address the fetcher should use. When SSH is configured a
// local forward is opened and returned as a Handle; otherwise the handle is nil.
func (s *Impl) Acquire(ctx context.Context, cfg models.BackupConfig) (string, Handle, error) {
	if cfg.SSH == nil {
		baseURL := DirectBaseURL(cfg.CouchDB)
		s.logger.Info().
			Bool("ssh", false).
			Str("base_url", baseURL).
			Msg("skipping SSH tunnel, connecting directly")
		return baseURL, nil, nil
	}

	client, err := s.connect(ctx, *cfg.SSH, cfg.Timeouts.Connect)
	if err != nil {
		return "", nil, err
	}

	localAddr := net.JoinHostPort(cfg.SSH.LocalAddr, strconv.Itoa(cfg.SSH.LocalPort))
	listener, err := s.listen("tcp", localAddr)
	if err != nil {
		_ = client.Close()
		return "", nil, fmt.Errorf("%w: listening on %s: %w", models.ErrTransport, localAddr, err)
	}

	remoteAddr := net.JoinHostPort(cfg.SSH.RemoteAddr, strconv.Itoa(cfg.SSH.RemotePort))
	t := newTunnel(listener, client, remoteAddr, s.logger)
	t.start()

	baseURL := fmt.Sprintf("%s://%s", cfg.CouchDB.Protocol, net.JoinHostPort(reachableHost(cfg.SSH.LocalAddr), strconv.Itoa(t.Port())))

	s.logger.Info().
		Bool("ssh", true).
		Str("ssh_host", cfg.SSH.Host).
		Str("local", listener.Addr().String()).
		Str("remote", remoteAddr).
		Str("base_url", baseURL).
		Msg("SSH tunnel established")

	return baseURL, t, nil
}

// TestConnection verifies SSH connectivity without opening a forward.
func (s *Impl) TestConnection(ctx context.Context, cfg models.BackupConfig) error {
	if cfg.SSH == nil {
		return nil
	}

	client, err := s.connect(ctx, *cfg.SSH, cfg.Timeouts.Connect)
	if err != nil {
		return err
	}
	return client.Close()
}

func (s *Impl) connect(ctx context.Context, cfg models.SSHTunnelConfig, timeout time.Duration) (SSHClient, error) {
	if err := ValidateCredentials(cfg); err != nil {
		return nil, err
	}

	sshConfig, err := s.buildConfig(cfg, timeout)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	s.logger.Debug().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Bool("key_auth", cfg.HasKey()).
		Msg("connecting to SSH host")

	// Create client with context timeout
	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// Close a client that connects after we gave up on it.
		go func() {
			if res := <-clientChan; res.err == nil && res.client != nil {
				_ = res.client.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: connecting to %s: %w", models.ErrTransport, models.ErrTimeout, addr, ctx.Err())
		}
		return nil, fmt.Errorf("%w: connecting to %s: %w", models.ErrTransport, addr, ctx.Err())
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("%w: failed to connect to %s: %w", models.ErrTransport, addr, res.err)
		}
		return res.client, nil
	}
}

func (s *Impl) buildConfig(cfg models.SSHTunnelConfig, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod

	if cfg.HasKey() {
		key := cfg.PrivateKey
		if len(key) == 0 {
			var err error
			key, err = os.ReadFile(cfg.KeyPath)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to read private key from %s: %w", models.ErrConfiguration, cfg.KeyPath, err)
			}
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse private key: %w", models.ErrConfiguration, err)
		}
		auth = ssh.PublicKeys(signer)
	} else {
		auth = ssh.Password(cfg.Password)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in verification via known_hosts_path
	if cfg.KnownHostsPath != "" {
		callback, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load known hosts from %s: %w", models.ErrConfiguration, cfg.KnownHostsPath, err)
		}
		hostKeyCallback = callback
	}

	if timeout == 0 {
		timeout = defaultConnectTimeout
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// reachableHost maps wildcard listen addresses to loopback for client use.
func reachableHost(addr string) string {
	switch addr {
	case "", "0.0.0.0", "::", "[::]":
		return "127.0.0.1"
	}
	return addr
}
