package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/config"
)

func newInitCommand() *cobra.Command {
	var (
		force   bool
		history bool
		sshKey  bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a siteprov workspace",
		Long: `Write a default siteprov.yaml and front-end build config into dir (default
the current directory).

The --history flag also creates the run history database, and --ssh-key
generates an ed25519 deploy key for remote provisioning.`,
		Example: `  # Initialize the current directory
  siteprov init

  # Initialize with run history and a deploy key
  siteprov init --history --ssh-key ./myapp`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			log.Info().Str("dir", dir).Bool("history", history).Bool("ssh_key", sshKey).Msg("Initializing workspace")

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			cfg := config.Default()
			dataDir := filepath.Join(dir, ".siteprov")
			if history {
				cfg.History.Path = filepath.Join(".siteprov", "history.db")
			}
			if sshKey {
				keyPath := filepath.Join(dataDir, "keys", "deploy-ed25519")
				if err := generateDeployKey(keyPath, out); err != nil {
					return err
				}
				abs, err := filepath.Abs(keyPath)
				if err != nil {
					return err
				}
				cfg.Remote.KeyFile = abs
			}

			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := writeNew(filepath.Join(dir, config.DefaultFileName), data, force, out); err != nil {
				return err
			}

			bcData, err := buildconfig.Marshal(buildconfig.Default())
			if err != nil {
				return err
			}
			if err := writeNew(filepath.Join(dir, cfg.BuildConfig), bcData, force, out); err != nil {
				return err
			}

			if history {
				dbPath := filepath.Join(dir, cfg.History.Path)
				if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dbPath), err)
				}
				store, err := openHistory(ctx, dbPath)
				if err != nil {
					return err
				}
				store.Close()
				fmt.Fprintf(out, "✓ Initialized run history: %s\n", dbPath)
			}

			fmt.Fprintf(out, "\nWorkspace initialized.\n\nNext steps:\n")
			fmt.Fprintf(out, "  1. Check the configuration:\n     siteprov validate\n\n")
			fmt.Fprintf(out, "  2. Review the stages:\n     siteprov plan\n\n")
			fmt.Fprintf(out, "  3. Provision:\n     siteprov provision\n")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	cmd.Flags().BoolVar(&history, "history", false, "create the run history database")
	cmd.Flags().BoolVar(&sshKey, "ssh-key", false, "generate an ed25519 deploy key")

	return cmd
}

// writeNew writes data to path, refusing to replace an existing file unless
// force is set.
func writeNew(path string, data []byte, force bool, out io.Writer) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "✓ Created %s\n", path)
	return nil
}

// generateDeployKey writes an OpenSSH ed25519 key pair unless one exists.
func generateDeployKey(keyPath string, out io.Writer) error {
	if _, err := os.Stat(keyPath); err == nil {
		fmt.Fprintf(out, "✓ SSH key already exists: %s\n", keyPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(keyPath), err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	privBlock, err := sshpkg.MarshalPrivateKey(privKey, "siteprov deploy key")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privBlock), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Fprintf(out, "✓ Generated SSH key: %s (add %s.pub to the host's authorized_keys)\n", keyPath, keyPath)
	return nil
}
