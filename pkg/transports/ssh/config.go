package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/siteprov/siteprov/pkg/config"
)

// Config holds SSH connection configuration for a remote provisioning target.
type Config struct {
	// Host is the remote host to connect to.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// KeyFile is the path to a private key.
	KeyFile string

	// KeyPassphrase decrypts KeyFile when it is encrypted.
	KeyPassphrase string

	// Password enables password authentication when set.
	Password string

	// UseAgent offers the keys held by the agent at $SSH_AUTH_SOCK.
	UseAgent bool

	// KnownHostsFile verifies the server host key. Host keys are always
	// checked; there is no insecure mode.
	KnownHostsFile string

	// ConnectionTimeout bounds the TCP dial and SSH handshake.
	ConnectionTimeout time.Duration

	// KeepAliveInterval is the interval between keepalive requests. Zero
	// disables keepalives.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(host, user string) *Config {
	cfg := &Config{
		Host:              host,
		Port:              22,
		User:              user,
		UseAgent:          os.Getenv("SSH_AUTH_SOCK") != "",
		ConnectionTimeout: 30 * time.Second,
		KeepAliveInterval: 30 * time.Second,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.KnownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
	}
	return cfg
}

// FromRemoteConfig builds a Config from the remote section of siteprov.yaml.
func FromRemoteConfig(rc config.RemoteConfig) *Config {
	cfg := DefaultConfig(rc.Host, rc.User)
	if rc.Port != 0 {
		cfg.Port = rc.Port
	}
	if rc.KeyFile != "" {
		cfg.KeyFile = expandHome(rc.KeyFile)
	}
	if rc.KnownHostsFile != "" {
		cfg.KnownHostsFile = expandHome(rc.KnownHostsFile)
	}
	if rc.Timeout > 0 {
		cfg.ConnectionTimeout = rc.Timeout
	}
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.KeyFile == "" && c.Password == "" && !c.UseAgent {
		return fmt.Errorf("no authentication method: set a key file, a password or use an agent")
	}
	if c.KnownHostsFile == "" {
		return fmt.Errorf("known hosts file is required")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// Address returns the host:port address string.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BuildSSHClientConfig builds an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var auths []ssh.AuthMethod
	if c.KeyFile != "" {
		signer, err := c.loadPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if c.UseAgent {
		if am := agentAuth(); am != nil {
			auths = append(auths, am)
		}
	}
	if c.Password != "" {
		auths = append(auths, ssh.Password(c.Password))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("no usable authentication method")
	}

	hostKeyCallback, err := knownhosts.New(c.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) loadPrivateKey() (ssh.Signer, error) {
	keyData, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if c.KeyPassphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(c.KeyPassphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

// agentAuth returns nil when no agent is reachable.
func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
