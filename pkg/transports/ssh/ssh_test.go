package ssh

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/config"
	"github.com/siteprov/siteprov/pkg/engine"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("example.com", "deploy")

	if cfg.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", cfg.Host)
	}
	if cfg.User != "deploy" {
		t.Errorf("expected user 'deploy', got '%s'", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("expected port 22, got %d", cfg.Port)
	}
	if cfg.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", cfg.ConnectionTimeout)
	}
	if cfg.Address() != "example.com:22" {
		t.Errorf("expected address 'example.com:22', got '%s'", cfg.Address())
	}
}

func TestFromRemoteConfig(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg := FromRemoteConfig(config.RemoteConfig{
		Host:           "app.internal",
		Port:           2222,
		User:           "site",
		KeyFile:        "~/.ssh/deploy",
		KnownHostsFile: "/etc/ssh/ssh_known_hosts",
		Timeout:        10 * time.Second,
	})

	if cfg.Address() != "app.internal:2222" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if want := filepath.Join(home, ".ssh", "deploy"); cfg.KeyFile != want {
		t.Errorf("KeyFile = %q, want %q", cfg.KeyFile, want)
	}
	if cfg.KnownHostsFile != "/etc/ssh/ssh_known_hosts" {
		t.Errorf("KnownHostsFile = %q", cfg.KnownHostsFile)
	}
	if cfg.ConnectionTimeout != 10*time.Second {
		t.Errorf("ConnectionTimeout = %v", cfg.ConnectionTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Config)
		errorMsg string
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, errorMsg: "host is required"},
		{name: "invalid port", modify: func(c *Config) { c.Port = 70000 }, errorMsg: "invalid port"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, errorMsg: "user is required"},
		{
			name: "no auth method",
			modify: func(c *Config) {
				c.Password = ""
				c.UseAgent = false
			},
			errorMsg: "no authentication method",
		},
		{name: "missing known hosts", modify: func(c *Config) { c.KnownHostsFile = "" }, errorMsg: "known hosts file is required"},
		{name: "zero timeout", modify: func(c *Config) { c.ConnectionTimeout = 0 }, errorMsg: "connection timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("example.com", "deploy")
			cfg.Password = "secret"
			cfg.KnownHostsFile = "/tmp/known_hosts"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestBuildSSHClientConfigMissingKnownHosts(t *testing.T) {
	cfg := DefaultConfig("example.com", "deploy")
	cfg.Password = "secret"
	cfg.KnownHostsFile = filepath.Join(t.TempDir(), "absent")

	if _, err := cfg.BuildSSHClientConfig(); err == nil {
		t.Fatal("expected error for missing known_hosts file")
	}
}

func TestDialPassword(t *testing.T) {
	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))

	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := client.HealthCheck(t.Context()); err == nil {
		t.Error("expected HealthCheck to fail after Close")
	}
}

func TestDialPublicKey(t *testing.T) {
	key, signer, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}
	server := newTestSSHServer(t, signer.PublicKey())

	cfg := server.passwordConfig(t)
	cfg.Password = ""
	cfg.KeyFile = writeKeyFile(t, key)
	dial(t, cfg)

	other, _, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg.KeyFile = writeKeyFile(t, other)
	_, err = Dial(t.Context(), cfg, zerolog.Nop())
	var terr *TransportError
	if !errors.As(err, &terr) || !terr.IsAuthError {
		t.Errorf("Dial() with unknown key error = %v, want auth TransportError", err)
	}
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	server := newTestSSHServer(t)
	_, impostor, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}

	cfg := server.passwordConfig(t)
	cfg.KnownHostsFile = server.knownHostsFile(t, impostor.PublicKey())

	_, err = Dial(t.Context(), cfg, zerolog.Nop())
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "handshake" {
		t.Fatalf("Dial() error = %v, want handshake TransportError", err)
	}
}

func TestDialUnreachable(t *testing.T) {
	server := newTestSSHServer(t)
	cfg := server.passwordConfig(t)
	server.close()

	_, err := Dial(t.Context(), cfg, zerolog.Nop())
	var terr *TransportError
	if !errors.As(err, &terr) || !terr.IsTemporary {
		t.Fatalf("Dial() error = %v, want temporary TransportError", err)
	}
}

func TestRunnerRun(t *testing.T) {
	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))
	r := NewRunner(client, zerolog.Nop(), nil)

	workdir := t.TempDir()
	env := engine.NewEnv(workdir, []string{"PATH=" + os.Getenv("PATH"), "GREETING=hello"})

	tests := []struct {
		name     string
		cmd      engine.Command
		wantOut  string
		wantErr  string
		wantCode int
	}{
		{
			name:    "stdout and stderr",
			cmd:     engine.Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}},
			wantOut: "out\n",
			wantErr: "err\n",
		},
		{
			name:     "exit status",
			cmd:      engine.Command{Name: "sh", Args: []string{"-c", "exit 3"}},
			wantCode: 3,
		},
		{
			name:    "environment is replaced",
			cmd:     engine.Command{Name: "sh", Args: []string{"-c", `printf '%s|%s' "$GREETING" "${SSH_TEST_UNSET-unset}"`}},
			wantOut: "hello|unset",
		},
		{
			name:    "working directory",
			cmd:     engine.Command{Name: "pwd"},
			wantOut: workdir + "\n",
		},
		{
			name:    "explicit dir",
			cmd:     engine.Command{Name: "pwd", Dir: "/"},
			wantOut: "/\n",
		},
		{
			name:    "stdin",
			cmd:     engine.Command{Name: "cat", Stdin: strings.NewReader("piped input")},
			wantOut: "piped input",
		},
		{
			name:     "missing program",
			cmd:      engine.Command{Name: "siteprov-no-such-program"},
			wantCode: 127,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cmd.Env = env
			res, err := r.Run(t.Context(), tt.cmd)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d (stderr %q)", res.ExitCode, tt.wantCode, res.Stderr)
			}
			if tt.wantOut != "" && res.Stdout != tt.wantOut {
				t.Errorf("Stdout = %q, want %q", res.Stdout, tt.wantOut)
			}
			if tt.wantErr != "" && res.Stderr != tt.wantErr {
				t.Errorf("Stderr = %q, want %q", res.Stderr, tt.wantErr)
			}
		})
	}
}

func TestRunnerCancel(t *testing.T) {
	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))
	r := NewRunner(client, zerolog.Nop(), nil)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, engine.Command{
		Name: "sleep",
		Args: []string{"10"},
		Env:  engine.NewEnv("/", []string{"PATH=" + os.Getenv("PATH")}),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() returned after %v", elapsed)
	}
}

func TestRunnerOutput(t *testing.T) {
	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))

	var live strings.Builder
	r := NewRunner(client, zerolog.Nop(), &live)
	_, err := r.Run(t.Context(), engine.Command{
		Name: "echo",
		Args: []string{"streamed"},
		Env:  engine.NewEnv("/", []string{"PATH=" + os.Getenv("PATH")}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if live.String() != "streamed\n" {
		t.Errorf("Output = %q", live.String())
	}
}

func TestCommandLine(t *testing.T) {
	env := engine.Env{
		Workdir: "/srv/app",
		Path:    []string{"/srv/app/.venv/bin", "/usr/bin"},
		Vars:    map[string]string{"HOME": "/home/site", "NVM_DIR": "/home/site/.nvm"},
	}

	tests := []struct {
		name string
		cmd  engine.Command
		want string
	}{
		{
			name: "workdir and quoting",
			cmd:  engine.Command{Name: "pip", Args: []string{"install", "-r", "my reqs.txt"}, Env: env},
			want: "cd /srv/app && exec env -i HOME=/home/site NVM_DIR=/home/site/.nvm PATH=/srv/app/.venv/bin:/usr/bin pip install -r 'my reqs.txt'",
		},
		{
			name: "explicit dir",
			cmd:  engine.Command{Name: "npm", Args: []string{"install"}, Dir: "/srv/app/frontend", Env: env},
			want: "cd /srv/app/frontend && exec env -i HOME=/home/site NVM_DIR=/home/site/.nvm PATH=/srv/app/.venv/bin:/usr/bin npm install",
		},
		{
			name: "empty env",
			cmd:  engine.Command{Name: "bash", Args: []string{"-c", "echo $HOME"}},
			want: "exec env -i bash -c 'echo $HOME'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommandLine(tt.cmd); got != tt.want {
				t.Errorf("CommandLine() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestClientEnviron(t *testing.T) {
	t.Setenv("SITEPROV_SSH_TEST", "present")

	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))

	environ, err := client.Environ(t.Context())
	if err != nil {
		t.Fatalf("Environ() error = %v", err)
	}
	env := engine.NewEnv("/", environ)
	if got := env.Get("SITEPROV_SSH_TEST"); got != "present" {
		t.Errorf("SITEPROV_SSH_TEST = %q, want present", got)
	}
	if len(env.Path) == 0 {
		t.Error("expected remote PATH")
	}
}

func TestParseEnv(t *testing.T) {
	out := "HOME=/home/site\nMULTI=first\nsecond line\nPATH=/usr/bin\n"
	want := []string{"HOME=/home/site", "MULTI=first\nsecond line", "PATH=/usr/bin"}
	if diff := cmp.Diff(want, parseEnv(out)); diff != "" {
		t.Errorf("parseEnv() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSystem(t *testing.T) {
	server := newTestSSHServer(t)
	client := dial(t, server.passwordConfig(t))

	fsys, err := NewFileSystem(client)
	if err != nil {
		t.Fatalf("NewFileSystem() error = %v", err)
	}
	defer fsys.Close()

	root := t.TempDir()
	venv := filepath.Join(root, ".venv")
	for _, dir := range []string{filepath.Join(venv, "bin"), filepath.Join(venv, "lib", "site")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]string{
		filepath.Join(root, "requirements.txt"):    "flask\n",
		filepath.Join(venv, "pyvenv.cfg"):          "home = /usr/bin\n",
		filepath.Join(venv, "lib", "site", "a.py"): "",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	info, err := fsys.Stat(filepath.Join(root, "requirements.txt"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 6 {
		t.Errorf("Size() = %d", info.Size())
	}

	if _, err := fsys.Stat(filepath.Join(root, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat(missing) error = %v, want fs.ErrNotExist", err)
	}

	data, err := fsys.ReadFile(filepath.Join(root, "requirements.txt"))
	if err != nil || string(data) != "flask\n" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
	if _, err := fsys.ReadFile(filepath.Join(root, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(missing) error = %v, want fs.ErrNotExist", err)
	}

	entries, err := fsys.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{".venv", "requirements.txt"}, names); diff != "" {
		t.Errorf("ReadDir() mismatch (-want +got):\n%s", diff)
	}
	if !entries[0].IsDir() {
		t.Error("expected .venv to be a directory")
	}

	if err := fsys.RemoveAll(venv); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Stat(venv); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("venv still present: %v", err)
	}
	if err := fsys.RemoveAll(venv); err != nil {
		t.Errorf("RemoveAll(missing) error = %v", err)
	}
}
