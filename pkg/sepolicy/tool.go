package sepolicy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Tool is a host executable that patches binary policies in place. It is
// invoked once per policy as `<path> -s <policy> -t <policy>`.
type Tool struct {
	Path   string
	logger *slog.Logger
}

func NewTool(path string) *Tool {
	return &Tool{
		Path:   path,
		logger: slog.Default(),
	}
}

// Patch runs the tool against every policy in order and stops at the first
// failure.
func (t *Tool) Patch(ctx context.Context, sepolicies []string) error {
	for _, policy := range sepolicies {
		t.logger.InfoContext(ctx, "patching sepolicy", "tool", t.Path, "policy", policy)

		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, t.Path, "-s", policy, "-t", policy)
		cmd.Stdout = &out
		cmd.Stderr = &out

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%w: %s on %s: %v: %s", ErrToolFailed, t.Path, policy, err, strings.TrimSpace(out.String()))
		}
		if msg := strings.TrimSpace(out.String()); msg != "" {
			t.logger.DebugContext(ctx, "sepolicy tool output", "policy", policy, "output", msg)
		}
	}
	return nil
}
