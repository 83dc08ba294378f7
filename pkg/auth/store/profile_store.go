package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
	"github.com/ashishrp-aws/aws-toolkit-vscode/pkg/auth/types"
)

// Entry pairs a connection id with its stored profile.
type Entry struct {
	ID      string
	Profile types.StoredProfile
}

// MetadataPatch is a partial metadata update. Nil fields are left untouched.
type MetadataPatch struct {
	ConnectionState *types.ConnectionState
	Label           *string
	Source          *string
}

// ProfileStore owns persisted connection profiles and the current-profile
// pointer. Every mutation is written through to Storage before returning, and
// each call is atomic from the caller's perspective.
type ProfileStore struct {
	storage Storage
	prefix  string
	mu      sync.Mutex
}

// NewProfileStore creates a store namespaced under the environment-specific
// key prefix.
func NewProfileStore(storage Storage, prefix string) *ProfileStore {
	return &ProfileStore{storage: storage, prefix: prefix}
}

func (s *ProfileStore) profilesKey() string { return s.prefix + "/profiles" }
func (s *ProfileStore) currentKey() string  { return s.prefix + "/current_profile_id" }

// ListProfiles returns every stored profile in deterministic id order.
func (s *ProfileStore) ListProfiles() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{ID: id, Profile: profiles[id]})
	}
	return entries, nil
}

// GetProfile returns the stored profile for id, or nil when absent.
func (s *ProfileStore) GetProfile(id string) (*types.StoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	p, ok := profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetProfileOrErr returns the stored profile for id, failing with
// ErrProfileNotFound when absent.
func (s *ProfileStore) GetProfileOrErr(id string) (*types.StoredProfile, error) {
	p, err := s.GetProfile(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", errUtils.ErrProfileNotFound, id)
	}
	return p, nil
}

// AddProfile persists a new profile under id with fresh metadata. Fails when
// the id is already taken.
func (s *ProfileStore) AddProfile(id string, profile types.Profile) (*types.StoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	if _, exists := profiles[id]; exists {
		return nil, fmt.Errorf("%w: %q", errUtils.ErrProfileExists, id)
	}
	stored := types.StoredProfile{
		Profile:  profile,
		Metadata: types.ProfileMetadata{ConnectionState: types.StateUnauthenticated},
	}
	profiles[id] = stored
	if err := s.save(profiles); err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateProfile replaces the profile configuration under id, preserving
// metadata. Fails with ErrProfileNotFound when absent.
func (s *ProfileStore) UpdateProfile(id string, profile types.Profile) (*types.StoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	existing, ok := profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUtils.ErrProfileNotFound, id)
	}
	existing.Profile = profile
	profiles[id] = existing
	if err := s.save(profiles); err != nil {
		return nil, err
	}
	return &existing, nil
}

// UpdateMetadata merges the patch into the stored metadata. Fails with
// ErrProfileNotFound when absent.
func (s *ProfileStore) UpdateMetadata(id string, patch MetadataPatch) (*types.StoredProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return nil, err
	}
	existing, ok := profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUtils.ErrProfileNotFound, id)
	}
	if patch.ConnectionState != nil {
		existing.Metadata.ConnectionState = *patch.ConnectionState
	}
	if patch.Label != nil {
		existing.Metadata.Label = *patch.Label
	}
	if patch.Source != nil {
		existing.Metadata.Source = *patch.Source
	}
	profiles[id] = existing
	if err := s.save(profiles); err != nil {
		return nil, err
	}
	return &existing, nil
}

// DeleteProfile removes the profile under id. Deleting an absent profile is a
// no-op.
func (s *ProfileStore) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := profiles[id]; !ok {
		return nil
	}
	delete(profiles, id)
	return s.save(profiles)
}

// CurrentProfileID returns the current-profile pointer, or "" when unset. The
// pointer may reference an id that no longer (or does not yet) exist; callers
// must tolerate the dangling reference.
func (s *ProfileStore) CurrentProfileID() (string, error) {
	raw, err := s.storage.Get(s.currentKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", nil
		}
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: parsing current profile id: %v", errUtils.ErrStorage, err)
	}
	return id, nil
}

// SetCurrentProfileID persists the current-profile pointer. An empty id clears
// it.
func (s *ProfileStore) SetCurrentProfileID(id string) error {
	if id == "" {
		return s.storage.Delete(s.currentKey())
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("%w: encoding current profile id: %v", errUtils.ErrStorage, err)
	}
	return s.storage.Set(s.currentKey(), raw)
}

func (s *ProfileStore) load() (map[string]types.StoredProfile, error) {
	raw, err := s.storage.Get(s.profilesKey())
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return make(map[string]types.StoredProfile), nil
		}
		return nil, err
	}
	profiles := make(map[string]types.StoredProfile)
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("%w: parsing profiles: %v", errUtils.ErrStorage, err)
	}
	return profiles, nil
}

func (s *ProfileStore) save(profiles map[string]types.StoredProfile) error {
	raw, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("%w: encoding profiles: %v", errUtils.ErrStorage, err)
	}
	return s.storage.Set(s.profilesKey(), raw)
}
