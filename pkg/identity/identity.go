// Package identity keeps a stable anonymous respondent id across restarts.
package identity

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"surveychat/pkg/logx"
	"surveychat/pkg/storage"
)

// Key is the storage key holding the respondent id.
const Key = "surveychat.respondent_id"

const (
	idPrefix     = "anon_"
	suffixLength = 9
	alphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Store hands out the respondent id. It never fails: when storage is unavailable it
// falls back to an id that lives only as long as the process.
type Store struct {
	kv        storage.Store
	logger    *logx.Logger
	now       func() time.Time
	mu        sync.Mutex
	ephemeral string
}

func NewStore(kv storage.Store) *Store {
	return &Store{
		kv:     kv,
		logger: logx.NewLogger("identity"),
		now:    time.Now,
	}
}

// GetOrCreateRespondentID returns the persisted id, creating and saving one on first use.
func (s *Store) GetOrCreateRespondentID(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ephemeral != "" {
		return s.ephemeral
	}

	id, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		s.logger.Warn("reading respondent id failed, using ephemeral id: %v", err)
		s.ephemeral = s.generate()
		return s.ephemeral
	}
	if ok && strings.HasPrefix(id, idPrefix) {
		return id
	}
	if ok {
		s.logger.Warn("discarding malformed respondent id %q", id)
	}

	id = s.generate()
	if err := s.kv.Set(ctx, Key, id); err != nil {
		s.logger.Warn("persisting respondent id failed, id will not survive restart: %v", err)
		s.ephemeral = id
		return id
	}
	s.logger.Info("created respondent id %s", id)
	return id
}

// Reset forgets the respondent id. The next call to GetOrCreateRespondentID mints a new one.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ephemeral = ""
	return s.kv.Delete(ctx, Key)
}

// generate returns anon_<base36 unix millis>_<random base36 suffix>.
func (s *Store) generate() string {
	return idPrefix + strconv.FormatInt(s.now().UnixMilli(), 36) + "_" + randomSuffix(suffixLength)
}

func randomSuffix(n int) string {
	var b strings.Builder
	limit := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			idx = big.NewInt(time.Now().UnixNano() % int64(len(alphabet)))
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}
