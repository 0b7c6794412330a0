package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/notify"
	"github.com/mclarke-dev/aegis/internal/provider"
)

// MemEventStore is an in-memory failure event store for testing. It mirrors
// the SQL repository's semantics: inclusive window boundaries and dedup by
// subject plus occurred_at within a tolerance.
type MemEventStore struct {
	mu     sync.Mutex
	events []*models.FailureEvent
	nextID int

	// RecordErr, when set, fails every Record call
	RecordErr error
}

func NewMemEventStore() *MemEventStore {
	return &MemEventStore{}
}

func (s *MemEventStore) Record(ctx context.Context, event *models.FailureEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RecordErr != nil {
		return "", s.RecordErr
	}

	s.nextID++
	stored := *event
	stored.ID = fmt.Sprintf("evt_%d", s.nextID)
	stored.CreatedAt = time.Now()
	s.events = append(s.events, &stored)
	return stored.ID, nil
}

func (s *MemEventStore) CountInWindow(ctx context.Context, subject string, windowStart, windowEnd time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.events {
		if e.Subject != subject {
			continue
		}
		if !e.OccurredAt.Before(windowStart) && !e.OccurredAt.After(windowEnd) {
			count++
		}
	}
	return count, nil
}

func (s *MemEventStore) Exists(ctx context.Context, subject string, occurredAt time.Time, tolerance time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.Subject != subject {
			continue
		}
		diff := e.OccurredAt.Sub(occurredAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemEventStore) ListInWindow(ctx context.Context, windowStart, windowEnd time.Time) ([]*models.FailureEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.FailureEvent
	for _, e := range s.events {
		if !e.OccurredAt.Before(windowStart) && !e.OccurredAt.After(windowEnd) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*models.FailureEvent
	var deleted int64
	for _, e := range s.events {
		if e.OccurredAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

// All returns a snapshot of every stored event.
func (s *MemEventStore) All() []*models.FailureEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.FailureEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MemAccountStore is an in-memory account registry for testing.
type MemAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMemAccountStore() *MemAccountStore {
	return &MemAccountStore{
		accounts: make(map[string]*models.Account),
	}
}

// Put seeds an account directly.
func (s *MemAccountStore) Put(account *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *account
	s.accounts[account.Subject] = &copied
}

func (s *MemAccountStore) GetBySubject(ctx context.Context, subject string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[subject]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *MemAccountStore) ResolveByAlias(ctx context.Context, alias string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[alias]; ok {
		copied := *account
		return &copied, nil
	}
	for _, account := range s.accounts {
		if account.Email == alias {
			copied := *account
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemAccountStore) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Subject]; ok {
		return nil, models.ErrConflict
	}
	// Mirror the partial unique index on email: non-empty emails are unique
	// across subjects, empty ones never collide.
	if account.Email != "" {
		for _, existing := range s.accounts {
			if existing.Email == account.Email {
				return nil, models.ErrConflict
			}
		}
	}
	now := time.Now()
	copied := *account
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.accounts[account.Subject] = &copied
	result := copied
	return &result, nil
}

func (s *MemAccountStore) SetLocked(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[subject]
	if !ok {
		return models.ErrNotFound
	}
	if !account.Locked {
		account.Locked = true
		now := time.Now()
		account.LockedAt = &now
	}
	return nil
}

func (s *MemAccountStore) SetUnlocked(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[subject]
	if !ok {
		return models.ErrNotFound
	}
	account.Locked = false
	account.LockedAt = nil
	return nil
}

// BlockCall records one SetBlocked invocation on the mock gateway.
type BlockCall struct {
	ProviderRef string
	Blocked     bool
}

// MockGateway implements provider.IdentityProviderGateway for testing.
type MockGateway struct {
	mu sync.Mutex

	Entries    []provider.ProviderLogEntry
	FetchErr   error
	BlockErr   error
	blockCalls []BlockCall
}

func (g *MockGateway) FetchFailureLog(ctx context.Context, windowStart, windowEnd time.Time) ([]provider.ProviderLogEntry, error) {
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	return g.Entries, nil
}

func (g *MockGateway) SetBlocked(ctx context.Context, providerRef string, blocked bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blockCalls = append(g.blockCalls, BlockCall{ProviderRef: providerRef, Blocked: blocked})
	if g.BlockErr != nil {
		return g.BlockErr
	}
	return nil
}

// BlockCalls returns a snapshot of recorded SetBlocked calls.
func (g *MockGateway) BlockCalls() []BlockCall {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]BlockCall, len(g.blockCalls))
	copy(out, g.blockCalls)
	return out
}

// MockNotifier implements notify.LockNotifier for testing.
type MockNotifier struct {
	mu     sync.Mutex
	Err    error
	events []notify.LockedEvent
}

func (n *MockNotifier) NotifyLocked(ctx context.Context, event notify.LockedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
	return n.Err
}

func (n *MockNotifier) Events() []notify.LockedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]notify.LockedEvent, len(n.events))
	copy(out, n.events)
	return out
}

// MockAlerter implements LockAlerter for testing.
type MockAlerter struct {
	mu    sync.Mutex
	Err   error
	calls []string
}

func (a *MockAlerter) SendLockAlert(ctx context.Context, subject, email string, failureCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, subject)
	return a.Err
}

func (a *MockAlerter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

// MockSecurityLogStore implements SecurityLogStore for testing.
type MockSecurityLogStore struct {
	mu   sync.Mutex
	Err  error
	logs []*models.SecurityLog
}

func (s *MockSecurityLogStore) Create(ctx context.Context, log *models.SecurityLog) (*models.SecurityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	copied := *log
	copied.ID = fmt.Sprintf("sec_%d", len(s.logs)+1)
	copied.CreatedAt = time.Now()
	s.logs = append(s.logs, &copied)
	return &copied, nil
}

func (s *MockSecurityLogStore) GetBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.SecurityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.SecurityLog
	for _, log := range s.logs {
		if log.Subject == subject {
			out = append(out, log)
		}
	}
	return out, nil
}

func (s *MockSecurityLogStore) Logs() []*models.SecurityLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.SecurityLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// NewTestAccount creates an unlocked account for testing.
func NewTestAccount(subject, email, providerRef string) *models.Account {
	now := time.Now()
	return &models.Account{
		Subject:     subject,
		Email:       email,
		ProviderRef: providerRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
