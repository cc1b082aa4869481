package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is an in-process SSH server that runs exec requests with the
// local sh and serves the sftp subsystem from the local disk.
type testSSHServer struct {
	listener   net.Listener
	config     *ssh.ServerConfig
	hostKey    ssh.Signer
	addr       string
	done       chan struct{}
	closeOnce  sync.Once
	authorized ssh.PublicKey
}

// newTestSSHServer starts a server accepting testuser/testpass and, when
// given, the authorized public key.
func newTestSSHServer(t *testing.T, authorized ...ssh.PublicKey) *testSSHServer {
	t.Helper()

	_, hostKey, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	s := &testSSHServer{hostKey: hostKey, done: make(chan struct{})}
	if len(authorized) > 0 {
		s.authorized = authorized[0]
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if s.authorized != nil && bytes.Equal(pubKey.Marshal(), s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	s.config.AddHostKey(hostKey)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.addr = s.listener.Addr().String()

	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	var proc *exec.Cmd
	var mu sync.Mutex

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}

			cmd := exec.Command("sh", "-c", payload.Command)
			cmd.Stdin = channel
			cmd.Stdout = channel
			cmd.Stderr = channel.Stderr()
			if err := cmd.Start(); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			mu.Lock()
			proc = cmd
			mu.Unlock()
			_ = req.Reply(true, nil)

			go func() {
				status := uint32(0)
				if err := cmd.Wait(); err != nil {
					var exitErr *exec.ExitError
					status = 255
					if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
						status = uint32(exitErr.ExitCode())
					}
				}
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				_ = channel.Close()
			}()

		case "signal":
			mu.Lock()
			if proc != nil && proc.Process != nil {
				_ = proc.Process.Kill()
			}
			mu.Unlock()

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				defer channel.Close()
				server, err := sftp.NewServer(channel)
				if err != nil {
					return
				}
				_ = server.Serve()
				_ = server.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.listener.Close()
	})
}

// port returns the listening port.
func (s *testSSHServer) port(t *testing.T) int {
	t.Helper()
	_, port, err := parseAddress(s.addr)
	if err != nil {
		t.Fatalf("failed to parse address: %v", err)
	}
	return port
}

// knownHostsFile writes a known_hosts file trusting key for the server.
func (s *testSSHServer) knownHostsFile(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{s.addr}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatalf("failed to write known_hosts: %v", err)
	}
	return path
}

// passwordConfig returns a Config that authenticates with a password and
// trusts the server host key.
func (s *testSSHServer) passwordConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig("127.0.0.1", "testuser")
	cfg.Port = s.port(t)
	cfg.Password = "testpass"
	cfg.UseAgent = false
	cfg.KnownHostsFile = s.knownHostsFile(t, s.hostKey.PublicKey())
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.KeepAliveInterval = 0
	return cfg
}

// dial connects with cfg and closes the client at cleanup.
func dial(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client, err := Dial(t.Context(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func generateTestKey() (ed25519.PrivateKey, ssh.Signer, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}
	return privKey, signer, nil
}

// writeKeyFile writes key in OpenSSH PEM format and returns its path.
func writeKeyFile(t *testing.T, key ed25519.PrivateKey) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}

func parseAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}
