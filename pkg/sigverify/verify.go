// Package sigverify checks detached SSH signatures of module release archives
// using ssh-keygen.
package sigverify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultTrustedKey signs the upstream module releases.
const DefaultTrustedKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIDOe6/tBnO7xZhAWXRj3ApUYgn+XZ0wnQiXM8B7tPgv4"

const (
	principal = "trusted"
	namespace = "file"
)

type Verifier struct {
	// Command is the ssh-keygen binary, looked up in PATH when empty.
	Command string
	logger  *slog.Logger
}

func NewVerifier() *Verifier {
	return &Verifier{
		Command: "ssh-keygen",
		logger:  slog.Default(),
	}
}

// Verify checks that sigPath is a valid signature of zipPath by publicKey.
// Any non-zero exit of ssh-keygen is reported as ErrVerificationFailed.
func (v *Verifier) Verify(ctx context.Context, zipPath, sigPath, publicKey string) error {
	logger := v.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verifying ssh signature", "zip", zipPath, "sig", sigPath)

	key, err := ParseKey(publicKey)
	if err != nil {
		return err
	}

	zipFile, err := os.Open(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zipFile.Close()

	signers, err := writeAllowedSigners(key)
	if err != nil {
		return err
	}
	defer os.Remove(signers)

	command := v.Command
	if command == "" {
		command = "ssh-keygen"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command,
		"-Y", "verify",
		"-f", signers,
		"-I", principal,
		"-n", namespace,
		"-s", sigPath,
	)
	cmd.Stdin = zipFile
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s: %s", ErrVerificationFailed, zipPath, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("run %s: %w", command, err)
	}

	logger.DebugContext(ctx, "signature valid", "zip", zipPath)
	return nil
}

// ParseKey validates an authorized_keys style public key and returns it in
// canonical single line form.
func ParseKey(publicKey string) (string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))), nil
}

func writeAllowedSigners(key string) (string, error) {
	f, err := os.CreateTemp("", "allowed_signers.*")
	if err != nil {
		return "", fmt.Errorf("create allowed signers file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%s %s\n", principal, key); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write allowed signers file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write allowed signers file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}
