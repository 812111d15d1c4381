package recipe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nerrad567/gray-logic-runtime/internal/device"
)

// filePerm is the mode of the recipe file.
const filePerm = 0o644

// dirPerm is used when the recipe file's directory has to be created.
const dirPerm = 0o755

// Logger defines the logging interface for the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store owns the recipe state and its file.
//
// Every mutation is validated against a copy first, swapped in, and then
// written atomically. If the write fails the in-memory state is kept and a
// *PersistenceError is returned.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	mu     sync.RWMutex
	path   string
	state  State
	types  TypeSet
	logger Logger
	digest [sha256.Size]byte
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open loads the recipe file at path. A missing file is created holding a
// single empty default recipe. types is used to reject descriptors naming
// device types the runtime cannot run.
func Open(ctx context.Context, path string, types TypeSet, opts ...Option) (*Store, error) {
	s := &Store{path: path, types: types, logger: noopLogger{}}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.state = NewState()
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, &PersistenceError{Op: "mkdir", Path: path, Err: err}
		}
		if err := s.saveLocked(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("created recipe file", "path", path)
		return s, nil
	case err != nil:
		return nil, &PersistenceError{Op: "read", Path: path, Err: err}
	}

	state, err := Decode(data)
	if err != nil {
		return nil, &PersistenceError{Op: "decode", Path: path, Err: err}
	}
	if err := state.Validate(types); err != nil {
		return nil, err
	}

	s.state = state
	s.digest = sha256.Sum256(data)
	s.logger.Info("loaded recipe file",
		"path", path,
		"recipes", len(state.All),
		"active_id", state.ActiveID,
	)
	return s, nil
}

// Decode parses a recipe document. It does not validate it.
func Decode(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, err
	}
	if state.All == nil {
		state.All = make(map[string]Recipe)
	}
	if state.Variables == nil {
		state.Variables = Variables{}
	}
	state.ActiveBackup = state.ActiveBackup.Clone()
	for id, r := range state.All {
		state.All[id] = r.Clone()
	}
	return state, nil
}

// Encode renders state the way the store writes it: two-space indentation,
// sorted keys, trailing newline.
func Encode(state State) ([]byte, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Path returns the recipe file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the current state to disk.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(s.state)
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	s.digest = sha256.Sum256(data)
	s.logger.Debug("recipe file saved", "path", s.path, "bytes", len(data))
	return nil
}

// writeAtomic replaces path with data so that readers see either the old
// or the new content, never a partial file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), filePerm); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// isOwnWrite reports whether data is exactly what the store last read or
// wrote.
func (s *Store) isOwnWrite(data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := sha256.Sum256(data)
	return bytes.Equal(sum[:], s.digest[:])
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ActiveID returns the id of the active recipe.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveID
}

// Get returns a copy of recipe id.
func (s *Store) Get(id string) (Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.All[id]
	if !ok {
		return Recipe{}, fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
	}
	return r.Clone(), nil
}

// Variables returns a copy of the variables.
func (s *Store) Variables() Variables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Variables.Clone()
}

// Resolved returns recipe id's devices with variables substituted, along
// with the recipe as stored.
func (s *Store) Resolved(id string) (Recipe, map[device.ID]device.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices, err := s.state.Resolved(id)
	if err != nil {
		return Recipe{}, nil, err
	}
	return s.state.All[id].Clone(), devices, nil
}

// HasUncommittedChanges reports whether the active recipe was edited since
// it was last applied successfully.
func (s *Store) HasUncommittedChanges() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.HasUncommittedChanges()
}

// update applies fn to a copy of the state, validates the result, swaps it
// in and saves.
func (s *Store) update(ctx context.Context, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := next.Validate(s.types); err != nil {
		return err
	}
	s.state = next
	return s.saveLocked(ctx)
}

// AddRecipe creates an empty recipe under a fresh id and returns the id.
func (s *Store) AddRecipe(ctx context.Context, tags []string) (string, error) {
	var id string
	err := s.update(ctx, func(st *State) error {
		id = uniqueID(DefaultID, st.has)
		st.All[id] = New(tags...)
		return nil
	})
	return id, err
}

// Duplicate copies recipe id under a fresh id. Every device gets a new
// DeviceID; the returned map goes from the source ids to the copies.
func (s *Store) Duplicate(ctx context.Context, id string) (string, map[device.ID]device.ID, error) {
	var (
		newID   string
		mapping map[device.ID]device.ID
	)
	err := s.update(ctx, func(st *State) error {
		src, ok := st.All[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
		}
		newID = uniqueID(id, st.has)
		dup := New(src.Tags...)
		mapping = make(map[device.ID]device.ID, len(src.Devices))
		for _, oldDev := range src.DeviceIDs() {
			newDev := device.NewID()
			mapping[oldDev] = newDev
			dup.Devices[newDev] = src.Devices[oldDev].Clone()
		}
		st.All[newID] = dup
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return newID, mapping, nil
}

// Rename moves recipe oldID to newID. Renaming the active recipe moves the
// active id with it.
func (s *Store) Rename(ctx context.Context, oldID, newID string) error {
	if err := ValidateID(newID); err != nil {
		return err
	}
	return s.update(ctx, func(st *State) error {
		r, ok := st.All[oldID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, oldID)
		}
		if oldID == newID {
			return nil
		}
		if st.has(newID) {
			return fmt.Errorf("%w: %q", ErrRecipeExists, newID)
		}
		delete(st.All, oldID)
		st.All[newID] = r
		if st.ActiveID == oldID {
			st.ActiveID = newID
		}
		return nil
	})
}

// Delete removes recipe id. The active recipe cannot be deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, func(st *State) error {
		if !st.has(id) {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
		}
		if st.ActiveID == id {
			return fmt.Errorf("%w: %q", ErrActiveRecipe, id)
		}
		delete(st.All, id)
		return nil
	})
}

// SetTags replaces the tags of recipe id.
func (s *Store) SetTags(ctx context.Context, id string, tags []string) error {
	return s.update(ctx, func(st *State) error {
		r, ok := st.All[id]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
		}
		r.Tags = normaliseTags(tags)
		st.All[id] = r
		return nil
	})
}

// SetVariables merges patch into the variables. Every recipe is
// re-validated against the result; the ids of recipes that use a patched
// variable are returned.
func (s *Store) SetVariables(ctx context.Context, patch Variables) ([]string, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var users []string
	err := s.update(ctx, func(st *State) error {
		st.Variables = st.Variables.Patch(patch)
		users = st.usersOf(patch.Names())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// AddDevice adds desc to recipe id under a new DeviceID.
func (s *Store) AddDevice(ctx context.Context, recipeID string, desc device.Descriptor) (device.ID, error) {
	devID := device.NewID()
	err := s.update(ctx, func(st *State) error {
		r, ok := st.All[recipeID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, recipeID)
		}
		r.Devices[devID] = desc.Clone()
		return nil
	})
	if err != nil {
		return device.NilID, err
	}
	return devID, nil
}

// RemoveDevice removes device id from recipe recipeID.
func (s *Store) RemoveDevice(ctx context.Context, recipeID string, id device.ID) error {
	return s.update(ctx, func(st *State) error {
		r, ok := st.All[recipeID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, recipeID)
		}
		if _, ok := r.Devices[id]; !ok {
			return fmt.Errorf("%w: %s in %q", ErrDeviceNotInRecipe, id, recipeID)
		}
		delete(r.Devices, id)
		return nil
	})
}

// UpdateDeviceParams replaces the params of device id in recipe recipeID.
func (s *Store) UpdateDeviceParams(ctx context.Context, recipeID string, id device.ID, params json.RawMessage) error {
	return s.update(ctx, func(st *State) error {
		r, ok := st.All[recipeID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, recipeID)
		}
		desc, ok := r.Devices[id]
		if !ok {
			return fmt.Errorf("%w: %s in %q", ErrDeviceNotInRecipe, id, recipeID)
		}
		r.Devices[id] = desc.WithParams(params)
		return nil
	})
}

// Commit records that recipe id now runs exactly as applied: it becomes
// the active recipe and applied becomes the backup.
func (s *Store) Commit(ctx context.Context, id string, applied Recipe) error {
	return s.update(ctx, func(st *State) error {
		if !st.has(id) {
			return fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
		}
		st.ActiveID = id
		st.ActiveBackup = applied.Clone()
		return nil
	})
}

// RestoreCommitted discards edits to the active recipe by replacing it with
// the backup.
func (s *Store) RestoreCommitted(ctx context.Context) error {
	return s.update(ctx, func(st *State) error {
		st.All[st.ActiveID] = st.ActiveBackup.Clone()
		return nil
	})
}

func (s State) has(id string) bool {
	_, ok := s.All[id]
	return ok
}
