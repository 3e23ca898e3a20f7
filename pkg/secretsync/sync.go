// Package secretsync keeps a local .env file and Google Secret Manager in
// agreement. Values are compared as strings after trimming a trailing
// newline; a local index of last-synced hashes decides which side moved.
package secretsync

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mlowell/clinops/pkg/envfile"
	"github.com/mlowell/clinops/pkg/gsm"
)

// ErrConflict is reported when both sides changed since the last sync and
// neither --push nor --pull was chosen.
var ErrConflict = errors.New("secretsync: conflicting changes, re-run with push or pull")

// Store is the remote secret store surface Syncer needs. *gsm.Client
// satisfies it.
type Store interface {
	EnsureSecret(ctx context.Context, id string) (bool, error)
	AddVersion(ctx context.Context, id string, data []byte) (string, error)
	AccessLatest(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	DeleteSecret(ctx context.Context, id string) error
	DestroyVersion(ctx context.Context, id, version string) error
}

// Mode selects which side wins when values differ.
type Mode int

const (
	// ModeSync consults the state index: only the side that changed
	// since the last sync is overwritten. Both changed is a conflict.
	ModeSync Mode = iota
	// ModePush makes the local file authoritative.
	ModePush
	// ModePull makes the remote store authoritative.
	ModePull
)

// Action is the planned operation for one key.
type Action string

const (
	ActionCreate   Action = "create"   // secret missing remotely
	ActionPush     Action = "push"     // new version from local value
	ActionPull     Action = "pull"     // rewrite local value from remote
	ActionInSync   Action = "in-sync"  // values already equal
	ActionConflict Action = "conflict" // both sides changed (ModeSync only)
	ActionSkip     Action = "skip"     // excluded by configuration
)

// Change is one key's entry in a Plan.
type Change struct {
	Key      string
	SecretID string
	Action   Action
	Reason   string

	localValue  string
	remoteValue string
	remoteSet   bool
}

// Plan is the full set of per-key decisions for one run.
type Plan struct {
	Changes []Change
}

// HasWork reports whether applying the plan would touch anything.
func (p *Plan) HasWork() bool {
	for _, ch := range p.Changes {
		switch ch.Action {
		case ActionCreate, ActionPush, ActionPull:
			return true
		}
	}
	return false
}

// Conflicts returns the keys marked ActionConflict.
func (p *Plan) Conflicts() []string {
	var keys []string
	for _, ch := range p.Changes {
		if ch.Action == ActionConflict {
			keys = append(keys, ch.Key)
		}
	}
	return keys
}

// Syncer plans and applies env<->GSM synchronization.
type Syncer struct {
	store   Store
	state   *State
	prefix  string
	exclude map[string]bool
	log     *slog.Logger
}

// NewSyncer wires a Syncer. exclude lists env keys that never sync.
func NewSyncer(store Store, state *State, prefix string, exclude []string, logger *slog.Logger) *Syncer {
	ex := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		ex[k] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, state: state, prefix: prefix, exclude: ex, log: logger}
}

// Diff computes the plan for doc against the remote store without writing
// anything on either side.
func (s *Syncer) Diff(ctx context.Context, doc *envfile.Document, mode Mode) (*Plan, error) {
	local := doc.Pairs()

	remoteIDs, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	remoteKeys := make(map[string]string, len(remoteIDs)) // env key -> secret ID
	for _, id := range remoteIDs {
		if key, ok := gsm.KeyFromID(s.prefix, id); ok {
			remoteKeys[key] = id
		}
	}

	keys := make(map[string]bool, len(local)+len(remoteKeys))
	for k := range local {
		keys[k] = true
	}
	for k := range remoteKeys {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	plan := &Plan{}
	for _, key := range sorted {
		ch, err := s.diffKey(ctx, key, local, remoteKeys, mode)
		if err != nil {
			return nil, err
		}
		plan.Changes = append(plan.Changes, ch)
	}
	return plan, nil
}

func (s *Syncer) diffKey(ctx context.Context, key string, local map[string]string, remoteKeys map[string]string, mode Mode) (Change, error) {
	secretID := gsm.SecretID(s.prefix, key)
	ch := Change{Key: key, SecretID: secretID}

	if s.exclude[key] {
		ch.Action = ActionSkip
		ch.Reason = "excluded by config"
		return ch, nil
	}

	localValue, hasLocal := local[key]
	ch.localValue = localValue

	if _, hasRemote := remoteKeys[key]; hasRemote {
		data, err := s.store.AccessLatest(ctx, secretID)
		if err != nil {
			return Change{}, fmt.Errorf("reading remote value for %s: %w", key, err)
		}
		// The gcloud CLI appends a newline when piping values in; compare
		// without it.
		ch.remoteValue = strings.TrimSuffix(string(data), "\n")
		ch.remoteSet = true
	}

	switch {
	case hasLocal && !ch.remoteSet:
		if mode == ModePull {
			ch.Action = ActionSkip
			ch.Reason = "local-only key, nothing to pull"
		} else {
			ch.Action = ActionCreate
			ch.Reason = "not in Secret Manager"
		}
	case !hasLocal && ch.remoteSet:
		if mode == ModePush {
			ch.Action = ActionSkip
			ch.Reason = "remote-only secret, nothing to push"
		} else {
			ch.Action = ActionPull
			ch.Reason = "missing from local file"
		}
	case localValue == ch.remoteValue:
		ch.Action = ActionInSync
	default:
		ch.Action, ch.Reason = s.resolveDrift(key, localValue, ch.remoteValue, mode)
	}
	return ch, nil
}

// resolveDrift decides direction for a key whose two values differ.
func (s *Syncer) resolveDrift(key, localValue, remoteValue string, mode Mode) (Action, string) {
	switch mode {
	case ModePush:
		return ActionPush, "local value wins (push)"
	case ModePull:
		return ActionPull, "remote value wins (pull)"
	}

	entry, known := s.state.Get(key)
	if !known {
		return ActionConflict, "values differ and key was never synced"
	}
	localChanged := HashValue(localValue) != entry.Hash
	remoteChanged := HashValue(remoteValue) != entry.Hash
	switch {
	case localChanged && !remoteChanged:
		return ActionPush, "local value changed since last sync"
	case remoteChanged && !localChanged:
		return ActionPull, "remote value changed since last sync"
	default:
		return ActionConflict, "both sides changed since last sync"
	}
}

// Apply executes the plan: pushes update Secret Manager, pulls update doc
// in memory. A key that fails does not roll back keys already applied;
// remaining keys are still attempted and the errors are joined. Pushes are
// recorded in the state index as they land; pulls are not recorded until
// CommitPulls, after the caller has written doc to disk.
func (s *Syncer) Apply(ctx context.Context, plan *Plan, doc *envfile.Document) error {
	var errs []error
	for _, ch := range plan.Changes {
		var err error
		switch ch.Action {
		case ActionCreate, ActionPush:
			err = s.pushKey(ctx, ch)
		case ActionPull:
			doc.Set(ch.Key, ch.remoteValue)
			s.log.Info("pulled secret into env file", "key", ch.Key)
		}
		if err != nil {
			s.log.Error("apply failed", "key", ch.Key, "action", string(ch.Action), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Key, err))
		}
	}
	return errors.Join(errs...)
}

// CommitPulls records the plan's pulled values in the state index. It must
// run only after the env document has reached disk: if the index claimed a
// pull that was never written, the stale local value would later look like
// a local edit and get pushed over the newer remote version.
func (s *Syncer) CommitPulls(plan *Plan) {
	for _, ch := range plan.Changes {
		if ch.Action == ActionPull {
			s.state.Set(ch.Key, ch.SecretID, "", ch.remoteValue)
		}
	}
}

func (s *Syncer) pushKey(ctx context.Context, ch Change) error {
	if _, err := s.store.EnsureSecret(ctx, ch.SecretID); err != nil {
		return err
	}
	version, err := s.store.AddVersion(ctx, ch.SecretID, []byte(ch.localValue))
	if err != nil {
		return err
	}
	s.state.Set(ch.Key, ch.SecretID, version, ch.localValue)
	s.log.Info("pushed secret", "key", ch.Key, "version", version)
	return nil
}

// Rotate writes a fresh value for each key to both sides: a new secret
// version remotely and the same value into doc. When value is empty a
// random 32-byte urlsafe token is generated per key. With destroyOld the
// previously synced version's payload is destroyed once the new one is in
// place.
func (s *Syncer) Rotate(ctx context.Context, doc *envfile.Document, keys []string, value string, destroyOld bool) error {
	for _, key := range keys {
		if s.exclude[key] {
			return fmt.Errorf("secretsync: %s is excluded from syncing", key)
		}
		next := value
		if next == "" {
			var err error
			next, err = randomToken()
			if err != nil {
				return err
			}
		}

		prev, known := s.state.Get(key)

		secretID := gsm.SecretID(s.prefix, key)
		if _, err := s.store.EnsureSecret(ctx, secretID); err != nil {
			return err
		}
		version, err := s.store.AddVersion(ctx, secretID, []byte(next))
		if err != nil {
			return err
		}
		doc.Set(key, next)
		s.state.Set(key, secretID, version, next)
		s.log.Info("rotated secret", "key", key, "version", version)

		if destroyOld && known && prev.Version != "" && prev.Version != version {
			if err := s.store.DestroyVersion(ctx, secretID, prev.Version); err != nil {
				return fmt.Errorf("secretsync: destroying old version of %s: %w", key, err)
			}
			s.log.Info("destroyed old version", "key", key, "version", prev.Version)
		}
	}
	return nil
}

// Remove deletes each key's remote secret and drops it from the sync
// index. The local env file is left alone; callers unset it separately
// when they want the key gone everywhere.
func (s *Syncer) Remove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		secretID := gsm.SecretID(s.prefix, key)
		if err := s.store.DeleteSecret(ctx, secretID); err != nil {
			if !errors.Is(err, gsm.ErrSecretNotFound) {
				return err
			}
			s.log.Warn("secret already absent", "key", key)
		}
		s.state.Remove(key)
		s.log.Info("removed secret", "key", key)
	}
	return nil
}

func randomToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("secretsync: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// LocalValue and RemoteValue expose change values for rendering. Remote
// returns ok=false for keys with no remote version.
func (ch Change) LocalValue() string { return ch.localValue }

func (ch Change) RemoteValue() (string, bool) { return ch.remoteValue, ch.remoteSet }
