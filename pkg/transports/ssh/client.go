package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// TransportError represents an SSH transport failure.
type TransportError struct {
	Op          string
	Err         error
	IsTemporary bool
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is a connected SSH session factory for one remote host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	done   chan struct{}
}

// Dial connects and authenticates to the host described by cfg.
func Dial(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Client, error) {
	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := cfg.Address()
	logger = logger.With().Str("component", "ssh").Str("address", address).Logger()
	logger.Debug().Msg("Establishing SSH connection")

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// The handshake has no context; closing the conn aborts it.
	stop := context.AfterFunc(dialCtx, func() { _ = conn.Close() })
	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if !stop() && err == nil {
		_ = ncc.Close()
		err = dialCtx.Err()
	}
	if err != nil {
		_ = conn.Close()
		if ctxErr := dialCtx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &TransportError{Op: "handshake", Err: err, IsAuthError: isAuthError(err)}
	}

	c := &Client{
		config: cfg,
		logger: logger,
		client: ssh.NewClient(ncc, chans, reqs),
		done:   make(chan struct{}),
	}
	if cfg.KeepAliveInterval > 0 {
		go c.keepAlive()
	}

	logger.Info().Str("user", cfg.User).Msg("SSH connection established")
	return c, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	close(c.done)
	err := c.client.Close()
	c.client = nil
	c.logger.Debug().Msg("SSH connection closed")
	return err
}

// HealthCheck verifies the connection answers a global request.
func (c *Client) HealthCheck(ctx context.Context) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return &TransportError{Op: "health-check", Err: err, IsTemporary: true}
		}
		return nil
	}
}

// Environ returns the login environment of the remote user as KEY=VALUE
// pairs, suitable for engine.NewEnv.
func (c *Client) Environ(ctx context.Context) ([]string, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := runSession(ctx, session, "env"); err != nil {
		return nil, fmt.Errorf("failed to read remote environment: %w", err)
	}
	return parseEnv(stdout.String()), nil
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, &TransportError{Op: "session", Err: errors.New("not connected")}
	}
	return c.client, nil
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			client, err := c.getClient()
			if err != nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn().Err(err).Msg("SSH keepalive failed")
				return
			}
		}
	}
}

// parseEnv splits env(1) output. Lines without '=' continue the previous
// value.
func parseEnv(out string) []string {
	var env []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		key, _, ok := strings.Cut(line, "=")
		if ok && key != "" && !strings.ContainsAny(key, " \t") {
			env = append(env, line)
			continue
		}
		if n := len(env); n > 0 {
			env[n-1] += "\n" + line
		}
	}
	return env
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
