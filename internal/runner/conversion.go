package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Document extensions the conversion tool is known to produce.
var outputExtensions = map[string]bool{
	".pdf":  true,
	".epub": true,
}

// ConversionConfig holds the external conversion tool settings.
type ConversionConfig struct {
	Binary      string
	LibraryPath string
	Timeout     time.Duration
}

// Outcome is the explicit result of one conversion invocation. A non-zero
// exit code is data, not an error: classification and retry decisions
// belong to the orchestrator.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// ConversionRunner invokes the external conversion executable.
type ConversionRunner struct {
	cfg    ConversionConfig
	logger *logrus.Entry
}

// NewConversionRunner creates a conversion runner.
func NewConversionRunner(cfg ConversionConfig, logger *logrus.Entry) *ConversionRunner {
	return &ConversionRunner{cfg: cfg, logger: logger}
}

// Convert runs the tool against the token file with the working directory
// set to workDir. Produced documents appear in workDir. The returned error
// is non-nil only when the process could not be run at all.
func (r *ConversionRunner) Convert(ctx context.Context, identityDir, tokenPath, workDir string) (*Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, tokenPath)
	cmd.Dir = workDir
	// The tool resolves its device store from $XDG_DATA_HOME/knock/acsm, so
	// point XDG_DATA_HOME at the identity directory's grandparent.
	cmd.Env = append(toolEnv(r.cfg.LibraryPath), "XDG_DATA_HOME="+filepath.Dir(filepath.Dir(identityDir)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.WithFields(logrus.Fields{
		"binary":   r.cfg.Binary,
		"token":    tokenPath,
		"work_dir": workDir,
		"timeout":  r.cfg.Timeout.String(),
	}).Info("Running conversion")

	start := time.Now()
	err := cmd.Run()
	outcome := &Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		outcome.TimedOut = true
		outcome.ExitCode = -1
		return outcome, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, nil
		}
		return nil, fmt.Errorf("failed to run conversion tool: %w", err)
	}

	return outcome, nil
}

// CollectOutputs returns the produced document files in workDir, sorted by
// name for deterministic ordering.
func CollectOutputs(workDir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(workDir, "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan work directory: %w", err)
	}

	var outputs []string
	for _, entry := range entries {
		if !outputExtensions[strings.ToLower(filepath.Ext(entry))] {
			continue
		}
		if info, err := os.Stat(entry); err != nil || !info.Mode().IsRegular() {
			continue
		}
		outputs = append(outputs, entry)
	}
	sort.Strings(outputs)
	return outputs, nil
}
