package models

import "fmt"

// SSHTunnelConfig holds SSH local port forwarding configuration.
type SSHTunnelConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string // password variant
	KeyPath        string // key variant, path to key file
	PrivateKey     []byte // loaded from KeyPath
	KnownHostsPath string // optional, host keys are not verified when empty

	LocalAddr  string // forward source address, default 127.0.0.1
	LocalPort  int    // forward source port, 0 picks a free port
	RemoteAddr string // forward destination as seen from the SSH host
	RemotePort int
}

// HasKey reports whether the key-based credential variant is configured.
func (c SSHTunnelConfig) HasKey() bool {
	return c.KeyPath != "" || len(c.PrivateKey) > 0
}

// HasPassword reports whether the username/password credential variant is configured.
func (c SSHTunnelConfig) HasPassword() bool {
	return c.Password != ""
}

// ValidateCredentials checks that exactly one credential variant is configured.
func (c SSHTunnelConfig) ValidateCredentials() error {
	switch {
	case c.HasKey() && c.HasPassword():
		return fmt.Errorf("%w: ssh private key and password are mutually exclusive", ErrConfiguration)
	case !c.HasKey() && !c.HasPassword():
		return fmt.Errorf("%w: either ssh private key or username/password must be provided", ErrConfiguration)
	case c.HasPassword() && c.Username == "":
		return fmt.Errorf("%w: ssh username is required for password authentication", ErrConfiguration)
	}
	return nil
}
