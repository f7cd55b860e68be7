// Package flags holds the assist-mode state shared across restarts:
// the always/dont assist booleans and the approved user set.
package flags

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"strconv"

	"github.com/gliderlab/awaybot/pkg/kv"
)

// Store keys. Booleans are stored as "0"/"1", the approved set as a
// JSON string list, matching the legacy key layout.
const (
	KeyAlwaysAssist  = "always_assist"
	KeyDontAssist    = "dont_assist"
	KeyApprovedUsers = "approved_users"
)

// KV is the key-value backend the store needs. *kv.KV satisfies it.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Store adapts a KV backend into typed flag accessors. Reads fail safe:
// a backend error yields the falsy/empty default, never an error.
type Store struct {
	kv KV
}

func NewStore(backend KV) *Store {
	return &Store{kv: backend}
}

func (s *Store) getBool(key string) bool {
	v, err := s.kv.Get(key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Printf("[Flags] action=get key=%s error=%v (treating as false)", key, err)
		}
		return false
	}
	return v == "1"
}

func (s *Store) setBool(key string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return s.kv.Set(key, val)
}

// AlwaysAssist reports whether every incoming message should be answered
func (s *Store) AlwaysAssist() bool { return s.getBool(KeyAlwaysAssist) }

// SetAlwaysAssist sets the always-assist flag
func (s *Store) SetAlwaysAssist(v bool) error { return s.setBool(KeyAlwaysAssist, v) }

// DontAssist reports whether all auto-replies are suppressed
func (s *Store) DontAssist() bool { return s.getBool(KeyDontAssist) }

// SetDontAssist sets the do-not-assist flag
func (s *Store) SetDontAssist(v bool) error { return s.setBool(KeyDontAssist, v) }

// approvedSet reads the stored approved list. A missing key or a corrupt
// value degrades to an empty set; a backend failure returns the error so
// callers can decide whether an empty set is safe to act on.
func (s *Store) approvedSet() (map[string]bool, error) {
	raw, err := s.kv.Get(KeyApprovedUsers)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]bool{}, nil
		}
		return map[string]bool{}, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Printf("[Flags] action=decode key=%s error=%v (treating as empty)", KeyApprovedUsers, err)
		return map[string]bool{}, nil
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// IsApproved reports whether the user is exempt from auto-replies
func (s *Store) IsApproved(userID int64) bool {
	set, err := s.approvedSet()
	if err != nil {
		log.Printf("[Flags] action=get key=%s error=%v (treating as empty)", KeyApprovedUsers, err)
		return false
	}
	return set[strconv.FormatInt(userID, 10)]
}

// Approve adds a user to the approved set. Idempotent: approving an
// already-approved user is observably a no-op. A backend read failure
// aborts without writing, so a transient glitch cannot replace the
// stored list with one rebuilt from an empty set.
//
// Read-modify-write on a single key; concurrent approvals can lose one
// update. Accepted as best-effort, not linearizable.
func (s *Store) Approve(userID int64) error {
	set, err := s.approvedSet()
	if err != nil {
		return err
	}
	id := strconv.FormatInt(userID, 10)
	if set[id] {
		return nil
	}
	set[id] = true

	ids := make([]string, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.kv.Set(KeyApprovedUsers, string(data))
}

// Approved returns the approved user IDs, sorted, without duplicates
func (s *Store) Approved() []string {
	set, err := s.approvedSet()
	if err != nil {
		log.Printf("[Flags] action=get key=%s error=%v (treating as empty)", KeyApprovedUsers, err)
		return []string{}
	}
	ids := make([]string, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot is the state reported by the status command
type Snapshot struct {
	AlwaysAssist  bool     `json:"Always Assist"`
	DontAssist    bool     `json:"Don't Assist"`
	ApprovedUsers []string `json:"Approved Users"`
}

// State returns a point-in-time view of all three flags
func (s *Store) State() Snapshot {
	return Snapshot{
		AlwaysAssist:  s.AlwaysAssist(),
		DontAssist:    s.DontAssist(),
		ApprovedUsers: s.Approved(),
	}
}
