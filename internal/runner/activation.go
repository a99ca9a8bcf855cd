// Package runner invokes the external activation and conversion executables
// across a process boundary. Both are opaque black boxes; the runners own
// only invocation, timeouts, and captured output. Retry policy lives one
// layer up in the orchestrator.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"acsm-bridge/internal/identity"

	"github.com/sirupsen/logrus"
)

// ActivationConfig holds the external activation tool settings.
type ActivationConfig struct {
	Binary      string
	LibraryPath string
	Timeout     time.Duration
}

// ActivationRunner invokes the external activation executable. It writes
// local files only; credential store synchronization is the identity
// manager's job, which keeps activation testable independent of storage.
type ActivationRunner struct {
	cfg    ActivationConfig
	logger *logrus.Entry
}

// NewActivationRunner creates an activation runner.
func NewActivationRunner(cfg ActivationConfig, logger *logrus.Entry) *ActivationRunner {
	return &ActivationRunner{cfg: cfg, logger: logger}
}

// Activate provisions identity artifacts into the directory. With
// forceReset it clears local state first. If a complete identity already
// exists the tool is not invoked. A partial artifact set is deleted up
// front: the tool refuses to run non-interactively against one.
func (r *ActivationRunner) Activate(ctx context.Context, identityDir string, forceReset bool) error {
	if forceReset {
		if err := os.RemoveAll(identityDir); err != nil {
			return fmt.Errorf("failed to clear identity directory: %w", err)
		}
		r.logger.Info("Cleared local identity directory")
	}

	if identity.Complete(identityDir) {
		r.logger.Debug("Identity already complete, skipping activation")
		return nil
	}

	if present := identity.Present(identityDir); len(present) > 0 {
		r.logger.WithField("present", present).Info("Clearing partial identity directory")
		if err := os.RemoveAll(identityDir); err != nil {
			return fmt.Errorf("failed to clear partial identity directory: %w", err)
		}
	}

	if err := os.MkdirAll(identityDir, 0755); err != nil {
		return fmt.Errorf("failed to create identity directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, "-a", "-v", "-v", "-O", identityDir)
	// Canned affirmative for the tool's overwrite prompt so the run never
	// blocks on input.
	cmd.Stdin = strings.NewReader("y\n")
	cmd.Env = toolEnv(r.cfg.LibraryPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.WithFields(logrus.Fields{
		"binary":  r.cfg.Binary,
		"dir":     identityDir,
		"timeout": r.cfg.Timeout.String(),
	}).Info("Running device activation")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("activation timed out after %s", r.cfg.Timeout)
	}
	if err != nil {
		return fmt.Errorf("activation failed: %w, stderr: %s", err, tail(stderr.String(), 2048))
	}

	// Exit code 0 is not the success condition on its own; the artifact set
	// must be complete afterwards.
	if missing := identity.Missing(identityDir); len(missing) > 0 {
		return fmt.Errorf("activation exited cleanly but artifacts are missing: %v", missing)
	}

	r.logger.WithField("duration_ms", duration.Milliseconds()).Info("Device activated")
	return nil
}

// toolEnv returns the subprocess environment with the bundled library path
// prepended to LD_LIBRARY_PATH.
func toolEnv(libraryPath string) []string {
	env := os.Environ()
	if libraryPath == "" {
		return env
	}
	return append(env, "LD_LIBRARY_PATH="+libraryPath+":"+os.Getenv("LD_LIBRARY_PATH"))
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
