// Package orchestrator ties identity management, conversion, failure
// classification, and bounded recovery into one request-scoped operation.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"acsm-bridge/internal/acsm"
	"acsm-bridge/internal/classify"
	"acsm-bridge/internal/history"
	"acsm-bridge/internal/logging"
	"acsm-bridge/internal/runner"
	"acsm-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// State identifies a phase of one orchestration run.
type State string

const (
	StateStart         State = "START"
	StateIdentityReady State = "IDENTITY_READY"
	StateConverting    State = "CONVERTING"
	StateRecovering    State = "RECOVERING"
	StateSuccess       State = "SUCCESS"
	StateFailed        State = "FAILED"
)

// Event is one lifecycle transition of a run, published for ops visibility.
// Results themselves are never streamed.
type Event struct {
	RunID     string    `json:"run_id"`
	State     State     `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IdentityManager guarantees a usable device identity.
type IdentityManager interface {
	EnsureReady(ctx context.Context) error
	ResetAndReactivate(ctx context.Context) error
	SyncToStore(ctx context.Context)
	Dir() string
}

// Converter invokes the external conversion tool.
type Converter interface {
	Convert(ctx context.Context, identityDir, tokenPath, workDir string) (*runner.Outcome, error)
}

// OutputPublisher uploads a produced document and returns its reference.
type OutputPublisher interface {
	Publish(ctx context.Context, localPath, filename string) (key string, size int64, downloadURL string, err error)
}

// ResultCache short-circuits repeat conversions of the same token.
type ResultCache interface {
	Lookup(ctx context.Context, digest string) ([]types.OutputFile, bool, error)
	Store(ctx context.Context, digest string, outputs []types.OutputFile) error
}

// RunRecorder persists terminal outcomes to the run journal.
type RunRecorder interface {
	Record(ctx context.Context, run history.Run) error
}

// EventSink receives lifecycle events. Implementations must not block.
type EventSink interface {
	Emit(event Event)
}

// CacheKey returns the digest used for result cache lookups.
type CacheKey func(tokenURL, tokenContent string) string

// Orchestrator executes conversion runs. One instance serves many requests;
// all per-run state lives on the stack and in a scratch directory that is
// removed on every exit path. The identity directory is shared process
// state, so runs are serialized over it: from readiness check through the
// final artifact sync, exactly one run owns the identity.
type Orchestrator struct {
	identity    IdentityManager
	converter   Converter
	publisher   OutputPublisher
	cache       ResultCache // optional
	cacheKey    CacheKey
	recorder    RunRecorder // optional
	events      EventSink   // optional
	httpClient  *http.Client
	scratchRoot string
	logger      *logrus.Logger

	identityMu sync.Mutex
}

// Options carries the optional collaborators.
type Options struct {
	Cache       ResultCache
	CacheKey    CacheKey
	Recorder    RunRecorder
	Events      EventSink
	HTTPClient  *http.Client
	ScratchRoot string
}

// New creates an orchestrator.
func New(identity IdentityManager, converter Converter, publisher OutputPublisher, logger *logrus.Logger, opts Options) (*Orchestrator, error) {
	if identity == nil {
		return nil, fmt.Errorf("identity manager is required")
	}
	if converter == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("output publisher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Orchestrator{
		identity:    identity,
		converter:   converter,
		publisher:   publisher,
		cache:       opts.Cache,
		cacheKey:    opts.CacheKey,
		recorder:    opts.Recorder,
		events:      opts.Events,
		httpClient:  httpClient,
		scratchRoot: opts.ScratchRoot,
		logger:      logger,
	}, nil
}

// Run executes one conversion request end to end and returns its terminal
// result. The result is produced exactly once; there are no partial or
// streaming outcomes.
func (o *Orchestrator) Run(ctx context.Context, req types.ConversionRequest) types.ConversionResult {
	// Input validation happens before any side effect.
	if err := req.Validate(); err != nil {
		return types.ConversionResult{
			RunID: newRunID(),
			Failure: &types.Failure{
				Category: types.CategoryInvalidRequest,
				Message:  err.Error(),
			},
			CompletedAt: time.Now(),
		}
	}

	run := &activeRun{
		id:      newRunID(),
		base:    acsm.DeriveBaseName(req.Filename, req.TokenURL, req.TokenContent),
		started: time.Now(),
	}
	run.logger = logging.NewRunLogger(o.logger, run.id)

	run.logger.WithField("filename", run.base).Info("Conversion run started")
	o.emit(run, StateStart, "")

	if result, ok := o.lookupCache(ctx, req, run); ok {
		return result
	}

	// A concurrent run's recovery reset would destroy the identity under
	// this run's conversion subprocess, so runs take exclusive ownership of
	// the identity directory until their final artifact sync.
	o.identityMu.Lock()
	defer o.identityMu.Unlock()

	if err := o.identity.EnsureReady(ctx); err != nil {
		run.logger.WithError(err).Error("Identity not ready, aborting before conversion")
		return o.fail(ctx, run, &types.Failure{
			Category: types.CategoryActivationFailed,
			Message:  fmt.Sprintf("failed to activate device: %v", err),
		})
	}
	o.emit(run, StateIdentityReady, "")

	scratch, err := os.MkdirTemp(o.scratchRoot, "acsm-run-")
	if err != nil {
		return o.fail(ctx, run, &types.Failure{
			Category: types.CategoryUnclassified,
			Message:  fmt.Sprintf("failed to create scratch directory: %v", err),
		})
	}
	defer os.RemoveAll(scratch)

	tokenPath := filepath.Join(scratch, "input.acsm")
	if failure := o.materializeToken(ctx, req, tokenPath); failure != nil {
		return o.fail(ctx, run, failure)
	}

	return o.convertWithRecovery(ctx, req, run, tokenPath, scratch)
}

// convertWithRecovery performs the conversion with at most one
// reset-and-retry cycle on an expired identity.
func (o *Orchestrator) convertWithRecovery(ctx context.Context, req types.ConversionRequest, run *activeRun, tokenPath, scratch string) types.ConversionResult {
	recovered := false

	for {
		run.attempts++
		o.emit(run, StateConverting, fmt.Sprintf("attempt %d", run.attempts))

		outcome, err := o.converter.Convert(ctx, o.identity.Dir(), tokenPath, scratch)

		// The tool may rotate identity artifacts even on failure; sync them
		// back before anything else so they are not lost.
		o.identity.SyncToStore(ctx)

		if err != nil {
			return o.fail(ctx, run, &types.Failure{
				Category: types.CategoryUnclassified,
				Message:  fmt.Sprintf("conversion tool could not be run: %v", err),
			})
		}

		run.logger.WithFields(logrus.Fields{
			"exit_code":   outcome.ExitCode,
			"timed_out":   outcome.TimedOut,
			"duration_ms": outcome.Duration.Milliseconds(),
			"attempt":     run.attempts,
		}).Info("Conversion attempt finished")

		if outcome.TimedOut {
			// Diagnostics are unavailable after a timeout, so no retry.
			return o.fail(ctx, run, &types.Failure{
				Category: types.CategoryUnclassified,
				Message:  "conversion timed out",
				Stdout:   outcome.Stdout,
				Stderr:   outcome.Stderr,
				ExitCode: outcome.ExitCode,
			})
		}

		if outcome.ExitCode == 0 {
			return o.succeed(ctx, req, run, scratch, outcome)
		}

		category := classify.Classify(outcome.Stderr)

		switch {
		case category == types.CategoryDeviceLimitReached:
			title := acsm.DisplayTitle(run.base)
			return o.fail(ctx, run, &types.Failure{
				Category: types.CategoryDeviceLimitReached,
				Message:  fmt.Sprintf("You have already exhausted the download limit for %s", title),
				Stdout:   outcome.Stdout,
				Stderr:   outcome.Stderr,
				ExitCode: outcome.ExitCode,
			})

		case category == types.CategoryIdentityExpired && !recovered:
			recovered = true
			run.logger.Warn("Identity expired, resetting and retrying once")
			o.emit(run, StateRecovering, "")

			if err := o.identity.ResetAndReactivate(ctx); err != nil {
				return o.fail(ctx, run, &types.Failure{
					Category: types.CategoryActivationFailed,
					Message:  fmt.Sprintf("failed to reset device identity: %v", err),
					Stderr:   outcome.Stderr,
					ExitCode: outcome.ExitCode,
				})
			}
			continue

		default:
			// Either no known sentinel matched, or the single recovery
			// cycle is already spent. Terminal either way.
			return o.fail(ctx, run, &types.Failure{
				Category: category,
				Message:  "conversion failed",
				Stdout:   outcome.Stdout,
				Stderr:   outcome.Stderr,
				ExitCode: outcome.ExitCode,
			})
		}
	}
}

// succeed collects and publishes the produced documents. An identity
// upload failure never downgrades a successful conversion.
func (o *Orchestrator) succeed(ctx context.Context, req types.ConversionRequest, run *activeRun, scratch string, outcome *runner.Outcome) types.ConversionResult {
	paths, err := runner.CollectOutputs(scratch)
	if err != nil {
		return o.fail(ctx, run, &types.Failure{
			Category: types.CategoryUnclassified,
			Message:  fmt.Sprintf("failed to collect output files: %v", err),
			Stdout:   outcome.Stdout,
		})
	}

	var outputs []types.OutputFile
	for _, path := range paths {
		filename := run.base + strings.ToLower(filepath.Ext(path))
		key, size, downloadURL, err := o.publisher.Publish(ctx, path, filename)
		if err != nil {
			return o.fail(ctx, run, &types.Failure{
				Category: types.CategoryUnclassified,
				Message:  fmt.Sprintf("failed to publish output %s: %v", filename, err),
				Stdout:   outcome.Stdout,
			})
		}
		outputs = append(outputs, types.OutputFile{
			Filename:    filename,
			Key:         key,
			SizeBytes:   size,
			DownloadURL: downloadURL,
		})
	}

	o.storeCache(ctx, req, run, outputs)
	o.emit(run, StateSuccess, fmt.Sprintf("%d output(s)", len(outputs)))

	result := types.ConversionResult{
		RunID:       run.id,
		Filename:    run.base,
		Outputs:     outputs,
		Attempts:    run.attempts,
		Duration:    time.Since(run.started),
		CompletedAt: time.Now(),
	}
	o.record(ctx, run, &result)

	run.logger.WithFields(logrus.Fields{
		"outputs":  len(outputs),
		"attempts": run.attempts,
	}).Info("Conversion run succeeded")

	return result
}

// fail finalizes a run with a classified failure.
func (o *Orchestrator) fail(ctx context.Context, run *activeRun, failure *types.Failure) types.ConversionResult {
	o.emit(run, StateFailed, string(failure.Category))

	result := types.ConversionResult{
		RunID:       run.id,
		Filename:    run.base,
		Failure:     failure,
		Attempts:    run.attempts,
		Duration:    time.Since(run.started),
		CompletedAt: time.Now(),
	}
	o.record(ctx, run, &result)

	run.logger.WithFields(logrus.Fields{
		"category": failure.Category,
		"attempts": run.attempts,
	}).Warn("Conversion run failed")

	return result
}

// maxTokenBytes bounds the fulfillment token download. Real tokens are a
// few kilobytes of XML.
const maxTokenBytes = 10 << 20

// materializeToken writes the fulfillment token to a local file,
// downloading it when the request carries a URL. Bad URLs, failed
// downloads, and oversized tokens are the caller's fault; local IO
// failures are not.
func (o *Orchestrator) materializeToken(ctx context.Context, req types.ConversionRequest, tokenPath string) *types.Failure {
	if req.TokenContent != "" {
		if err := os.WriteFile(tokenPath, []byte(req.TokenContent), 0600); err != nil {
			return &types.Failure{
				Category: types.CategoryUnclassified,
				Message:  fmt.Sprintf("failed to write fulfillment token: %v", err),
			}
		}
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.TokenURL, nil)
	if err != nil {
		return invalidRequest("invalid token URL: %v", err)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return invalidRequest("failed to download fulfillment token: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return invalidRequest("failed to download fulfillment token: status %d", resp.StatusCode)
	}

	file, err := os.Create(tokenPath)
	if err != nil {
		return &types.Failure{
			Category: types.CategoryUnclassified,
			Message:  fmt.Sprintf("failed to create token file: %v", err),
		}
	}
	defer file.Close()

	// Read one byte past the limit so truncation is detected instead of
	// silently handing the tool a corrupt token.
	n, err := io.Copy(file, io.LimitReader(resp.Body, maxTokenBytes+1))
	if err != nil {
		return invalidRequest("failed to download fulfillment token: %v", err)
	}
	if n > maxTokenBytes {
		return invalidRequest("fulfillment token exceeds %d bytes", maxTokenBytes)
	}
	return nil
}

func invalidRequest(format string, args ...interface{}) *types.Failure {
	return &types.Failure{
		Category: types.CategoryInvalidRequest,
		Message:  fmt.Sprintf(format, args...),
	}
}

// lookupCache returns a cached result when the same token was already
// converted and the entry is still live.
func (o *Orchestrator) lookupCache(ctx context.Context, req types.ConversionRequest, run *activeRun) (types.ConversionResult, bool) {
	if o.cache == nil || o.cacheKey == nil {
		return types.ConversionResult{}, false
	}

	digest := o.cacheKey(req.TokenURL, req.TokenContent)
	outputs, hit, err := o.cache.Lookup(ctx, digest)
	if err != nil {
		run.logger.WithError(err).Warn("Result cache lookup failed")
		return types.ConversionResult{}, false
	}
	if !hit {
		return types.ConversionResult{}, false
	}

	o.emit(run, StateSuccess, "cached")
	result := types.ConversionResult{
		RunID:       run.id,
		Filename:    run.base,
		Outputs:     outputs,
		FromCache:   true,
		Duration:    time.Since(run.started),
		CompletedAt: time.Now(),
	}
	o.record(ctx, run, &result)
	return result, true
}

// storeCache records a successful result in the cache, best-effort.
func (o *Orchestrator) storeCache(ctx context.Context, req types.ConversionRequest, run *activeRun, outputs []types.OutputFile) {
	if o.cache == nil || o.cacheKey == nil || len(outputs) == 0 {
		return
	}
	digest := o.cacheKey(req.TokenURL, req.TokenContent)
	if err := o.cache.Store(ctx, digest, outputs); err != nil {
		run.logger.WithError(err).Warn("Result cache store failed")
	}
}

// record writes the terminal outcome to the run journal, best-effort.
func (o *Orchestrator) record(ctx context.Context, run *activeRun, result *types.ConversionResult) {
	if o.recorder == nil {
		return
	}

	entry := history.Run{
		ID:          run.id,
		Filename:    run.base,
		Succeeded:   result.Succeeded(),
		Attempts:    run.attempts,
		OutputCount: len(result.Outputs),
		DurationMs:  result.Duration.Milliseconds(),
		CreatedAt:   result.CompletedAt,
	}
	if result.Failure != nil {
		entry.Category = string(result.Failure.Category)
		entry.Message = result.Failure.Message
	}

	if err := o.recorder.Record(ctx, entry); err != nil {
		run.logger.WithError(err).Warn("Failed to record run in journal")
	}
}

func (o *Orchestrator) emit(run *activeRun, state State, detail string) {
	if o.events == nil {
		return
	}
	o.events.Emit(Event{
		RunID:     run.id,
		State:     state,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}

// activeRun is the per-request state of one orchestration.
type activeRun struct {
	id       string
	base     string
	attempts int
	started  time.Time
	logger   *logrus.Entry
}

func newRunID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
