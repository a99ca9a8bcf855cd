// Package identity guarantees a valid, locally materialized device identity
// before conversion, synchronizing it to and from the shared credential
// store. Readiness is re-verified on every call; it is never cached, so a
// concurrent run refreshing the same identity is tolerated.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"acsm-bridge/internal/credstore"

	"github.com/sirupsen/logrus"
)

// CredentialStore is the remote artifact store the manager syncs against.
type CredentialStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// ActivationRunner provisions a fresh identity into a local directory.
type ActivationRunner interface {
	Activate(ctx context.Context, identityDir string, forceReset bool) error
}

// Manager keeps the local identity directory consistent with the store.
type Manager struct {
	store  CredentialStore
	runner ActivationRunner
	dir    string
	logger *logrus.Entry
}

// NewManager creates an identity manager over a fixed local directory.
func NewManager(store CredentialStore, runner ActivationRunner, dir string, logger *logrus.Entry) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("activation runner is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("identity directory is required")
	}

	return &Manager{
		store:  store,
		runner: runner,
		dir:    dir,
		logger: logger,
	}, nil
}

// Dir returns the local identity directory.
func (m *Manager) Dir() string {
	return m.dir
}

// EnsureReady materializes a complete identity in the local directory. The
// fast path downloads all artifacts from the store; activation is invoked
// only when one or more are missing. Newly activated artifacts are uploaded
// back to the store best-effort; a failed upload only costs a future
// re-activation, not correctness of this run.
func (m *Manager) EnsureReady(ctx context.Context) error {
	if m.downloadAll(ctx) && Complete(m.dir) {
		m.logger.Debug("Identity ready from credential store")
		return nil
	}

	m.logger.WithField("missing", Missing(m.dir)).Info("Identity incomplete, activating device")

	if err := m.runner.Activate(ctx, m.dir, false); err != nil {
		return fmt.Errorf("device activation failed: %w", err)
	}

	m.SyncToStore(ctx)

	if !Complete(m.dir) {
		return fmt.Errorf("identity incomplete after activation, missing: %v", Missing(m.dir))
	}
	return nil
}

// ResetAndReactivate destroys the identity in both the store and the local
// directory, then activates from scratch. Used only in the transient
// failure recovery path.
func (m *Manager) ResetAndReactivate(ctx context.Context) error {
	m.logger.Warn("Resetting device identity")

	for _, name := range ArtifactNames {
		if err := m.store.Delete(ctx, name); err != nil {
			m.logger.WithError(err).WithField("artifact", name).Warn("Failed to delete remote artifact")
		}
	}

	if err := m.runner.Activate(ctx, m.dir, true); err != nil {
		return fmt.Errorf("device reactivation failed: %w", err)
	}

	m.SyncToStore(ctx)

	if !Complete(m.dir) {
		return fmt.Errorf("identity incomplete after reactivation, missing: %v", Missing(m.dir))
	}
	return nil
}

// SyncToStore uploads every locally present artifact to the credential
// store. Best-effort: the external tool may rotate artifacts even on a
// failed conversion, so this runs after every attempt, and individual
// upload failures are logged, never escalated.
func (m *Manager) SyncToStore(ctx context.Context) {
	for _, name := range Present(m.dir) {
		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			m.logger.WithError(err).WithField("artifact", name).Warn("Failed to read local artifact")
			continue
		}
		if err := m.store.Put(ctx, name, data); err != nil {
			m.logger.WithError(err).WithField("artifact", name).Warn("Failed to upload artifact")
			continue
		}
		m.logger.WithField("artifact", name).Debug("Artifact uploaded")
	}
}

// downloadAll fetches every artifact into the local directory and reports
// whether all of them were retrieved. A missing remote artifact is not an
// error; anything already on disk for that name is left untouched.
func (m *Manager) downloadAll(ctx context.Context) bool {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		m.logger.WithError(err).Error("Failed to create identity directory")
		return false
	}

	downloaded := 0
	for _, name := range ArtifactNames {
		data, err := m.store.Get(ctx, name)
		if err != nil {
			if errors.Is(err, credstore.ErrNotFound) {
				m.logger.WithField("artifact", name).Debug("Artifact not in credential store")
			} else {
				m.logger.WithError(err).WithField("artifact", name).Warn("Failed to download artifact")
			}
			continue
		}
		if err := os.WriteFile(filepath.Join(m.dir, name), data, 0600); err != nil {
			m.logger.WithError(err).WithField("artifact", name).Warn("Failed to write local artifact")
			continue
		}
		downloaded++
	}

	return downloaded == len(ArtifactNames)
}
