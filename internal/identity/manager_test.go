package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"acsm-bridge/internal/credstore"
	"acsm-bridge/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory credential store.
type fakeStore struct {
	blobs      map[string][]byte
	putErr     error
	getCalls   int
	putCalls   int
	deleteCall int
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[string][]byte)}
}

func (f *fakeStore) Get(ctx context.Context, name string) ([]byte, error) {
	f.getCalls++
	data, ok := f.blobs[name]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) Put(ctx context.Context, name string, data []byte) error {
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[name] = data
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, name string) error {
	f.deleteCall++
	delete(f.blobs, name)
	return nil
}

// fakeRunner records activation calls and materializes artifacts on demand.
type fakeRunner struct {
	calls      int
	forceCalls int
	fail       bool
	partial    bool
}

func (f *fakeRunner) Activate(ctx context.Context, dir string, forceReset bool) error {
	f.calls++
	if forceReset {
		f.forceCalls++
		os.RemoveAll(dir)
	}
	if f.fail {
		return assert.AnError
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	names := ArtifactNames
	if f.partial {
		names = names[:1]
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("fresh-"+name), 0600); err != nil {
			return err
		}
	}
	return nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logging.NewServiceLogger(logger, "identity-test")
}

func seedStore(store *fakeStore) {
	for _, name := range ArtifactNames {
		store.blobs[name] = []byte("stored-" + name)
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, &fakeRunner{}, "/tmp/x", testLogger())
	assert.Error(t, err)

	_, err = NewManager(newFakeStore(), nil, "/tmp/x", testLogger())
	assert.Error(t, err)

	_, err = NewManager(newFakeStore(), &fakeRunner{}, "", testLogger())
	assert.Error(t, err)
}

func TestEnsureReadyFromStore(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.EnsureReady(context.Background()))

	assert.Equal(t, 0, runner.calls, "activation must not run when the store is complete")
	assert.True(t, Complete(dir))

	data, err := os.ReadFile(filepath.Join(dir, "devicesalt"))
	require.NoError(t, err)
	assert.Equal(t, "stored-devicesalt", string(data))
}

func TestEnsureReadyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.EnsureReady(context.Background()))
	require.NoError(t, m.EnsureReady(context.Background()))

	assert.Equal(t, 0, runner.calls)
}

func TestEnsureReadyActivatesWhenStoreEmpty(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.EnsureReady(context.Background()))

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, runner.forceCalls)
	assert.True(t, Complete(dir))

	// Fresh artifacts must have been uploaded back to the store.
	assert.Len(t, store.blobs, len(ArtifactNames))
}

func TestEnsureReadyActivationFailure(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{fail: true}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	assert.Error(t, m.EnsureReady(context.Background()))
}

func TestEnsureReadyIncompleteAfterActivation(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{partial: true}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	err = m.EnsureReady(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestEnsureReadyUploadFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	store.putErr = assert.AnError
	runner := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)

	// A failed upload only costs a future re-activation, not readiness.
	assert.NoError(t, m.EnsureReady(context.Background()))
}

func TestResetAndReactivate(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "identity")

	m, err := NewManager(store, runner, dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, m.EnsureReady(context.Background()))

	require.NoError(t, m.ResetAndReactivate(context.Background()))

	assert.Equal(t, len(ArtifactNames), store.deleteCall, "all remote artifacts must be deleted")
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 1, runner.forceCalls)
	assert.True(t, Complete(dir))

	data, err := os.ReadFile(filepath.Join(dir, "devicesalt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh-devicesalt", string(data))
}

func TestCompleteRejectsPartialIdentity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "activation.xml"), []byte("x"), 0600))

	assert.False(t, Complete(dir))
	assert.Equal(t, []string{"device.xml", "devicesalt"}, Missing(dir))
	assert.Equal(t, []string{"activation.xml"}, Present(dir))
}

func TestCompleteRejectsEmptyArtifact(t *testing.T) {
	dir := t.TempDir()
	for _, name := range ArtifactNames {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}

	assert.False(t, Complete(dir), "empty artifacts are not a valid identity")
}
