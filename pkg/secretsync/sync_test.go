package secretsync

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlowell/clinops/pkg/envfile"
	"github.com/mlowell/clinops/pkg/gsm"
)

// fakeStore is an in-memory Store recording versions per secret ID.
type fakeStore struct {
	secrets map[string][]string
	fail    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: make(map[string][]string), fail: make(map[string]error)}
}

func (f *fakeStore) EnsureSecret(_ context.Context, id string) (bool, error) {
	if err := f.fail[id]; err != nil {
		return false, err
	}
	if _, ok := f.secrets[id]; ok {
		return false, nil
	}
	f.secrets[id] = nil
	return true, nil
}

func (f *fakeStore) AddVersion(_ context.Context, id string, data []byte) (string, error) {
	if err := f.fail[id]; err != nil {
		return "", err
	}
	f.secrets[id] = append(f.secrets[id], string(data))
	return fmt.Sprint(len(f.secrets[id])), nil
}

func (f *fakeStore) AccessLatest(_ context.Context, id string) ([]byte, error) {
	versions := f.secrets[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("no versions for %s", id)
	}
	return []byte(versions[len(versions)-1]), nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]string, error) {
	var ids []string
	for id, versions := range f.secrets {
		if len(versions) > 0 && strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) DeleteSecret(_ context.Context, id string) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	if _, ok := f.secrets[id]; !ok {
		return fmt.Errorf("%w: %s", gsm.ErrSecretNotFound, id)
	}
	delete(f.secrets, id)
	return nil
}

func (f *fakeStore) DestroyVersion(_ context.Context, id, version string) error {
	n, err := strconv.Atoi(version)
	if err != nil || n < 1 || n > len(f.secrets[id]) {
		return fmt.Errorf("no version %s for %s", version, id)
	}
	f.secrets[id][n-1] = ""
	return nil
}

func (f *fakeStore) latest(id string) string {
	versions := f.secrets[id]
	return versions[len(versions)-1]
}

func newTestSyncer(t *testing.T, store *fakeStore, exclude ...string) (*Syncer, *State) {
	t.Helper()
	state, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return NewSyncer(store, state, "clinic_", exclude, nil), state
}

func mustDoc(t *testing.T, content string) *envfile.Document {
	t.Helper()
	doc, err := envfile.Parse(strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

func actionFor(t *testing.T, plan *Plan, key string) Change {
	t.Helper()
	for _, ch := range plan.Changes {
		if ch.Key == key {
			return ch
		}
	}
	t.Fatalf("no change for key %s", key)
	return Change{}
}

func TestDiffCreateAndInSync(t *testing.T) {
	store := newFakeStore()
	store.secrets["clinic_API_TOKEN"] = []string{"tok"}
	syncer, _ := newTestSyncer(t, store)

	doc := mustDoc(t, "DATABASE_URL=postgres://db\nAPI_TOKEN=tok\n")
	plan, err := syncer.Diff(context.Background(), doc, ModeSync)
	require.NoError(t, err)

	assert.Equal(t, ActionCreate, actionFor(t, plan, "DATABASE_URL").Action)
	assert.Equal(t, ActionInSync, actionFor(t, plan, "API_TOKEN").Action)
	assert.True(t, plan.HasWork())
}

func TestDiffTrimsTrailingNewline(t *testing.T) {
	// gcloud-piped values carry a trailing newline that must not count
	// as drift.
	store := newFakeStore()
	store.secrets["clinic_API_TOKEN"] = []string{"tok\n"}
	syncer, _ := newTestSyncer(t, store)

	plan, err := syncer.Diff(context.Background(), mustDoc(t, "API_TOKEN=tok\n"), ModeSync)
	require.NoError(t, err)
	assert.Equal(t, ActionInSync, actionFor(t, plan, "API_TOKEN").Action)
}

func TestDiffDriftDirections(t *testing.T) {
	store := newFakeStore()
	store.secrets["clinic_KEY"] = []string{"remote"}

	t.Run("push and pull modes force direction", func(t *testing.T) {
		syncer, _ := newTestSyncer(t, store)
		doc := mustDoc(t, "KEY=local\n")

		plan, err := syncer.Diff(context.Background(), doc, ModePush)
		require.NoError(t, err)
		assert.Equal(t, ActionPush, actionFor(t, plan, "KEY").Action)

		plan, err = syncer.Diff(context.Background(), doc, ModePull)
		require.NoError(t, err)
		assert.Equal(t, ActionPull, actionFor(t, plan, "KEY").Action)
	})

	t.Run("sync mode without history is a conflict", func(t *testing.T) {
		syncer, _ := newTestSyncer(t, store)
		plan, err := syncer.Diff(context.Background(), mustDoc(t, "KEY=local\n"), ModeSync)
		require.NoError(t, err)
		assert.Equal(t, ActionConflict, actionFor(t, plan, "KEY").Action)
		assert.Equal(t, []string{"KEY"}, plan.Conflicts())
	})

	t.Run("sync mode follows the side that changed", func(t *testing.T) {
		syncer, state := newTestSyncer(t, store)

		state.Set("KEY", "clinic_KEY", "1", "remote") // local edited since
		plan, err := syncer.Diff(context.Background(), mustDoc(t, "KEY=local\n"), ModeSync)
		require.NoError(t, err)
		assert.Equal(t, ActionPush, actionFor(t, plan, "KEY").Action)

		state.Set("KEY", "clinic_KEY", "1", "local") // remote edited since
		plan, err = syncer.Diff(context.Background(), mustDoc(t, "KEY=local\n"), ModeSync)
		require.NoError(t, err)
		assert.Equal(t, ActionPull, actionFor(t, plan, "KEY").Action)
	})
}

func TestDiffExcluded(t *testing.T) {
	syncer, _ := newTestSyncer(t, newFakeStore(), "LOCAL_ONLY")
	plan, err := syncer.Diff(context.Background(), mustDoc(t, "LOCAL_ONLY=x\n"), ModeSync)
	require.NoError(t, err)
	ch := actionFor(t, plan, "LOCAL_ONLY")
	assert.Equal(t, ActionSkip, ch.Action)
	assert.False(t, plan.HasWork())
}

func TestApplyPushAndPull(t *testing.T) {
	store := newFakeStore()
	store.secrets["clinic_REMOTE_ONLY"] = []string{"from-remote"}
	syncer, state := newTestSyncer(t, store)

	doc := mustDoc(t, "NEW_KEY=fresh\n")
	plan, err := syncer.Diff(context.Background(), doc, ModeSync)
	require.NoError(t, err)
	require.NoError(t, syncer.Apply(context.Background(), plan, doc))
	syncer.CommitPulls(plan)

	assert.Equal(t, "fresh", store.latest("clinic_NEW_KEY"))
	v, ok := doc.Get("REMOTE_ONLY")
	require.True(t, ok)
	assert.Equal(t, "from-remote", v)

	entry, ok := state.Get("NEW_KEY")
	require.True(t, ok)
	assert.Equal(t, "1", entry.Version)
	assert.Equal(t, HashValue("fresh"), entry.Hash)

	pulled, ok := state.Get("REMOTE_ONLY")
	require.True(t, ok)
	assert.Equal(t, HashValue("from-remote"), pulled.Hash)

	// A second diff is now clean.
	plan, err = syncer.Diff(context.Background(), doc, ModeSync)
	require.NoError(t, err)
	assert.False(t, plan.HasWork())
}

func TestApplyPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.fail["clinic_BAD"] = fmt.Errorf("permission denied")
	syncer, _ := newTestSyncer(t, store)

	doc := mustDoc(t, "BAD=x\nGOOD=y\n")
	plan, err := syncer.Diff(context.Background(), doc, ModePush)
	require.NoError(t, err)

	err = syncer.Apply(context.Background(), plan, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
	// The failing key does not stop the rest of the plan.
	assert.Equal(t, "y", store.latest("clinic_GOOD"))
}

func TestApplyFailureCannotClobberPulledValue(t *testing.T) {
	// Remote ROTATED moved on while BROKEN cannot be pushed. If the pull
	// were recorded in the index before the env file hit disk, a rerun
	// from the stale file would see "local changed" and push the old
	// value over the newer remote one.
	store := newFakeStore()
	store.secrets["clinic_ROTATED"] = []string{"new-remote"}
	store.fail["clinic_BROKEN"] = fmt.Errorf("permission denied")
	syncer, state := newTestSyncer(t, store)
	state.Set("ROTATED", "clinic_ROTATED", "1", "old")

	doc := mustDoc(t, "ROTATED=old\nBROKEN=x\n")
	plan, err := syncer.Diff(context.Background(), doc, ModeSync)
	require.NoError(t, err)
	require.Equal(t, ActionPull, actionFor(t, plan, "ROTATED").Action)

	require.Error(t, syncer.Apply(context.Background(), plan, doc))

	// Uncommitted: the index still holds the old hash, so a rerun from a
	// stale copy of the file plans another pull, never a push.
	stale := mustDoc(t, "ROTATED=old\nBROKEN=x\n")
	plan2, err := syncer.Diff(context.Background(), stale, ModeSync)
	require.NoError(t, err)
	assert.Equal(t, ActionPull, actionFor(t, plan2, "ROTATED").Action)
	assert.Equal(t, "new-remote", store.latest("clinic_ROTATED"))

	// Once the file is written and the pull committed, the key is clean.
	syncer.CommitPulls(plan)
	plan3, err := syncer.Diff(context.Background(), doc, ModeSync)
	require.NoError(t, err)
	assert.Equal(t, ActionInSync, actionFor(t, plan3, "ROTATED").Action)
	entry, ok := state.Get("ROTATED")
	require.True(t, ok)
	assert.Equal(t, HashValue("new-remote"), entry.Hash)
}

func TestRotate(t *testing.T) {
	store := newFakeStore()
	syncer, state := newTestSyncer(t, store)
	doc := mustDoc(t, "SESSION_SECRET=old\n")

	require.NoError(t, syncer.Rotate(context.Background(), doc, []string{"SESSION_SECRET"}, "", false))

	rotated, _ := doc.Get("SESSION_SECRET")
	assert.NotEqual(t, "old", rotated)
	assert.NotEmpty(t, rotated)
	assert.Equal(t, rotated, store.latest("clinic_SESSION_SECRET"))

	entry, ok := state.Get("SESSION_SECRET")
	require.True(t, ok)
	assert.Equal(t, HashValue(rotated), entry.Hash)
}

func TestRotateExplicitValueAndExcluded(t *testing.T) {
	store := newFakeStore()
	syncer, _ := newTestSyncer(t, store, "PINNED")
	doc := mustDoc(t, "API_TOKEN=old\n")

	require.NoError(t, syncer.Rotate(context.Background(), doc, []string{"API_TOKEN"}, "explicit", false))
	v, _ := doc.Get("API_TOKEN")
	assert.Equal(t, "explicit", v)

	assert.Error(t, syncer.Rotate(context.Background(), doc, []string{"PINNED"}, "", false))
}

func TestRotateDestroysOldVersion(t *testing.T) {
	store := newFakeStore()
	syncer, state := newTestSyncer(t, store)
	doc := mustDoc(t, "API_TOKEN=first\n")

	// Establish version 1 as the last synced state.
	plan, err := syncer.Diff(context.Background(), doc, ModePush)
	require.NoError(t, err)
	require.NoError(t, syncer.Apply(context.Background(), plan, doc))

	require.NoError(t, syncer.Rotate(context.Background(), doc, []string{"API_TOKEN"}, "", true))

	versions := store.secrets["clinic_API_TOKEN"]
	require.Len(t, versions, 2)
	assert.Empty(t, versions[0], "old payload destroyed")
	assert.NotEmpty(t, versions[1])

	entry, ok := state.Get("API_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "2", entry.Version)
}

func TestRemove(t *testing.T) {
	store := newFakeStore()
	store.secrets["clinic_OLD_KEY"] = []string{"v"}
	syncer, state := newTestSyncer(t, store)
	state.Set("OLD_KEY", "clinic_OLD_KEY", "1", "v")

	require.NoError(t, syncer.Remove(context.Background(), []string{"OLD_KEY"}))
	_, remote := store.secrets["clinic_OLD_KEY"]
	assert.False(t, remote)
	_, tracked := state.Get("OLD_KEY")
	assert.False(t, tracked)

	// Removing an absent key is not an error.
	require.NoError(t, syncer.Remove(context.Background(), []string{"NEVER_EXISTED"}))
}
