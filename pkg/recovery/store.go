// Package recovery persists the active session pointer and decides, once per process,
// whether to resume it.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"surveychat/pkg/logx"
	"surveychat/pkg/storage"
)

// Key is the storage key holding the recovery state.
const Key = "surveychat.survey_position"

// State points at the session that was in progress when the client last ran.
type State struct {
	SessionID       string    `json:"session_id"`
	CurrentPosition int       `json:"current_position"`
	SavedAt         time.Time `json:"saved_at"`
}

// Store reads and writes State. It holds at most one State.
type Store struct {
	kv     storage.Store
	logger *logx.Logger
	now    func() time.Time
}

func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv, logger: logx.NewLogger("recovery"), now: time.Now}
}

// Load returns the saved state, or nil if none. A corrupt entry is discarded.
func (s *Store) Load(ctx context.Context) (*State, error) {
	raw, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("load recovery state: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.SessionID == "" || st.CurrentPosition < 1 {
		s.logger.Warn("discarding unreadable recovery state %q", raw)
		if derr := s.kv.Delete(ctx, Key); derr != nil {
			return nil, fmt.Errorf("discard recovery state: %w", derr)
		}
		return nil, nil
	}
	return &st, nil
}

// Save records sessionID and position as the active session.
func (s *Store) Save(ctx context.Context, sessionID string, position int) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	data, err := json.Marshal(State{SessionID: sessionID, CurrentPosition: position, SavedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal recovery state: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("save recovery state: %w", err)
	}
	return nil
}

// Clear removes any saved state.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("clear recovery state: %w", err)
	}
	return nil
}
