package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/schoolledger/schoolledger/internal/store"
)

// BackupCLI exports and restores every collection as an encrypted file.
type BackupCLI struct {
	kv         store.KV
	passphrase string
	now        func() time.Time
	stdin      *os.File
}

// NewBackupCLI wraps kv. passphrase comes from BACKUP_PASSPHRASE and may be
// empty, in which case the command prompts on a terminal.
func NewBackupCLI(kv store.KV, passphrase string) *BackupCLI {
	return &BackupCLI{kv: kv, passphrase: passphrase, now: time.Now, stdin: os.Stdin}
}

// BackupCommand runs "backup export -out FILE" or "backup import -in FILE"
// and returns the process exit code.
func (c *BackupCLI) BackupCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: backup export -out FILE | backup import -in FILE")
		return 2
	}
	switch args[0] {
	case "export":
		fs := flag.NewFlagSet("backup export", flag.ContinueOnError)
		fs.SetOutput(stderr)
		out := fs.String("out", "", "destination file")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *out == "" {
			fs.Usage()
			return 2
		}
		n, err := c.Export(ctx, *out)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "backup export: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "exported %d collections to %s\n", n, *out)
	case "import":
		fs := flag.NewFlagSet("backup import", flag.ContinueOnError)
		fs.SetOutput(stderr)
		in := fs.String("in", "", "backup file to restore")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *in == "" {
			fs.Usage()
			return 2
		}
		n, err := c.Import(ctx, *in)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "backup import: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "restored %d collections from %s\n", n, *in)
	default:
		_, _ = fmt.Fprintf(stderr, "backup: unknown command %q\n", args[0])
		return 2
	}
	return 0
}

// Export seals a snapshot of every collection into path.
func (c *BackupCLI) Export(ctx context.Context, path string) (int, error) {
	pass, err := c.secret()
	if err != nil {
		return 0, err
	}
	snap, err := store.Export(ctx, c.kv, c.now())
	if err != nil {
		return 0, err
	}
	sealed, err := store.SealSnapshot(snap, pass)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return 0, err
	}
	return len(snap.Collections), nil
}

// Import overwrites the collections held in the backup at path.
func (c *BackupCLI) Import(ctx context.Context, path string) (int, error) {
	pass, err := c.secret()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	snap, err := store.OpenSnapshot(data, pass)
	if err != nil {
		return 0, err
	}
	if err := store.Import(ctx, c.kv, snap); err != nil {
		return 0, err
	}
	return len(snap.Collections), nil
}

func (c *BackupCLI) secret() (string, error) {
	if c.passphrase != "" {
		return c.passphrase, nil
	}
	if c.stdin == nil || !term.IsTerminal(int(c.stdin.Fd())) {
		return "", errors.New("BACKUP_PASSPHRASE not set and stdin is not a terminal")
	}
	_, _ = fmt.Fprint(os.Stderr, "Backup passphrase: ")
	raw, err := term.ReadPassword(int(c.stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", store.ErrEmptyPassphrase
	}
	return string(raw), nil
}
