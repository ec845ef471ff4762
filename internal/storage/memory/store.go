package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/trenchlab/trenchwatch/internal/storage"
)

// Store is an in-memory storage.Store. Used by tests and stub runs; the
// production store lives in the sqlite package.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]*storage.TokenState
	pool     map[string]storage.PoolEntry
	state    map[string]string
	counters map[string]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tokens:   make(map[string]*storage.TokenState),
		pool:     make(map[string]storage.PoolEntry),
		state:    make(map[string]string),
		counters: make(map[string]int64),
	}
}

func key(addr string) string { return strings.ToLower(addr) }

func (s *Store) GetToken(_ context.Context, tokenAddress string) (*storage.TokenState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key(tokenAddress)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *Store) UpsertTokenSeen(_ context.Context, tokenAddress, chainID string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(tokenAddress)
	if tok, ok := s.tokens[k]; ok {
		tok.LastCheckedAt = now
		return nil
	}
	s.tokens[k] = &storage.TokenState{
		TokenAddress:  tokenAddress,
		ChainID:       chainID,
		FirstSeenAt:   now,
		LastCheckedAt: now,
	}
	return nil
}

func (s *Store) UpdateTokenState(_ context.Context, state *storage.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.tokens[key(state.TokenAddress)] = &cp
	return nil
}

func (s *Store) UpdateAlerted(_ context.Context, tokenAddress string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key(tokenAddress)]
	if !ok {
		return storage.ErrNotFound
	}
	tok.Eligibility.LastAlertedAt = now
	tok.Eligibility.AlertCount++
	return nil
}

func (s *Store) TokensForPerformanceRefresh(_ context.Context, limit int, minFirstAt int64) ([]storage.TokenState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.TokenState
	for _, tok := range s.tokens {
		if tok.EligibleFirstAt > 0 && tok.EligibleFirstAt >= minFirstAt {
			out = append(out, *tok)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastCheckedAt < out[j].LastCheckedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpsertPoolEntry(_ context.Context, entry storage.PoolEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(entry.PairAddress)
	if existing, ok := s.pool[k]; ok {
		entry.FirstSeenAt = existing.FirstSeenAt
	}
	s.pool[k] = entry
	return nil
}

func (s *Store) PurgePool(_ context.Context, minSeenAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, entry := range s.pool {
		if entry.LastSeenAt < minSeenAt {
			delete(s.pool, k)
		}
	}
	return nil
}

func (s *Store) TrimPool(_ context.Context, maxSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxSize <= 0 || len(s.pool) <= maxSize {
		return nil
	}
	entries := make([]storage.PoolEntry, 0, len(s.pool))
	for _, e := range s.pool {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].HotScore > entries[j].HotScore })
	for _, e := range entries[maxSize:] {
		delete(s.pool, key(e.PairAddress))
	}
	return nil
}

func (s *Store) LoadPool(_ context.Context, limit int, minSeenAt int64) ([]storage.PoolEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.PoolEntry
	for _, e := range s.pool {
		if e.LastSeenAt >= minSeenAt {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HotScore > out[j].HotScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetOperationalState(_ context.Context) (storage.OperationalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op := storage.OperationalState{}
	op.Paused = s.state["paused"] == "true"
	if raw, ok := s.state["mute_until"]; ok {
		op.MuteUntil, _ = strconv.ParseInt(raw, 10, 64)
	}
	return op, nil
}

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state["paused"] = strconv.FormatBool(paused)
	return nil
}

func (s *Store) SetMuteUntil(_ context.Context, until int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state["mute_until"] = strconv.FormatInt(until, 10)
	return nil
}

func (s *Store) GetState(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.state[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return val, nil
}

func (s *Store) SetState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	return nil
}

func (s *Store) IncrementCounter(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += delta
	return s.counters[key], nil
}

func (s *Store) Close() error { return nil }
