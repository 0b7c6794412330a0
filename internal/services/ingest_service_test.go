package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/services"
	pkglogger "github.com/mclarke-dev/aegis/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type ingestFixture struct {
	service  *services.IngestService
	events   *services.MemEventStore
	accounts *services.MemAccountStore
	gateway  *services.MockGateway
	notifier *services.MockNotifier
	alerter  *services.MockAlerter
	secLogs  *services.MockSecurityLogStore
}

func newIngestFixture() *ingestFixture {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := lockoutConfig()

	events := services.NewMemEventStore()
	accounts := services.NewMemAccountStore()
	gateway := &services.MockGateway{}
	notifier := &services.MockNotifier{}
	alerter := &services.MockAlerter{}
	secLogs := &services.MockSecurityLogStore{}

	policy := services.NewLockoutPolicy(events, accounts, cfg)
	enforcer := services.NewLockEnforcer(accounts, gateway, notifier, alerter, secLogs, logger, 5*time.Second)
	service := services.NewIngestService(events, accounts, policy, enforcer, cfg, logger, pkglogger.NewAuditLogger(logger))

	return &ingestFixture{
		service:  service,
		events:   events,
		accounts: accounts,
		gateway:  gateway,
		notifier: notifier,
		alerter:  alerter,
		secLogs:  secLogs,
	}
}

func (f *ingestFixture) report(t *testing.T, subject string) *services.IngestResult {
	t.Helper()
	result, err := f.service.ReportFailure(context.Background(), services.ReportFailureInput{
		SubjectOrAlias: subject,
		Reason:         models.ReasonInvalidCredentials,
		IPAddress:      "192.168.1.1",
		UserAgent:      "Mozilla/5.0",
	})
	assert.NoError(t, err)
	return result
}

func TestIngestReportFailure_LocksOnThirdFailure(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	result := f.report(t, "user1")
	assert.False(t, result.Flagged)
	assert.False(t, result.Locked)
	assert.Equal(t, 1, result.FailureCount)

	result = f.report(t, "user1")
	assert.False(t, result.Flagged)
	assert.Equal(t, 2, result.FailureCount)

	result = f.report(t, "user1")
	assert.True(t, result.Flagged)
	assert.True(t, result.Locked)
	assert.Equal(t, 3, result.FailureCount)

	account, err := f.accounts.GetBySubject(context.Background(), "user1")
	assert.NoError(t, err)
	assert.True(t, account.Locked)
	assert.NotNil(t, account.LockedAt)

	calls := f.gateway.BlockCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "auth0|user1", calls[0].ProviderRef)
	assert.True(t, calls[0].Blocked)

	notifications := f.notifier.Events()
	assert.Len(t, notifications, 1)
	assert.Equal(t, "user1", notifications[0].Subject)

	logs := f.secLogs.Logs()
	assert.Len(t, logs, 1)
	assert.Equal(t, models.SecurityEventAccountLocked, logs[0].EventType)
	assert.Equal(t, "system", logs[0].Actor)
	assert.Equal(t, 3, logs[0].FailureCount)

	assert.Equal(t, []string{"user1"}, f.alerter.Calls())
}

func TestIngestReportFailure_NoRepropagationWhenAlreadyLocked(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1")
	f.report(t, "user1")
	f.report(t, "user1")

	assert.Len(t, f.gateway.BlockCalls(), 1)

	// Fourth and fifth failures arrive on an already-locked account
	result := f.report(t, "user1")
	assert.True(t, result.Flagged)
	assert.True(t, result.Locked)

	f.report(t, "user1")

	assert.Len(t, f.gateway.BlockCalls(), 1)
	assert.Len(t, f.notifier.Events(), 1)
	assert.Len(t, f.secLogs.Logs(), 1)
}

func TestIngestReportFailure_GatewayFailureDoesNotSurface(t *testing.T) {
	f := newIngestFixture()
	f.gateway.BlockErr = errors.New("provider unavailable")
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1")
	f.report(t, "user1")
	result := f.report(t, "user1")

	assert.True(t, result.Locked)

	// Local lock holds even though the mirror call failed
	account, err := f.accounts.GetBySubject(context.Background(), "user1")
	assert.NoError(t, err)
	assert.True(t, account.Locked)
}

func TestIngestReportFailure_NotifierFailureDoesNotSurface(t *testing.T) {
	f := newIngestFixture()
	f.notifier.Err = errors.New("broker down")
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1")
	f.report(t, "user1")
	result := f.report(t, "user1")

	assert.True(t, result.Locked)
}

func TestIngestReportFailure_StorageErrorSurfaces(t *testing.T) {
	f := newIngestFixture()
	f.events.RecordErr = errors.New("connection refused")
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	_, err := f.service.ReportFailure(context.Background(), services.ReportFailureInput{
		SubjectOrAlias: "user1",
		Reason:         models.ReasonInvalidCredentials,
	})

	assert.Error(t, err)
}

func TestIngestReportFailure_UnknownSubjectTrackedByAlias(t *testing.T) {
	f := newIngestFixture()

	result := f.report(t, "ghost@example.com")
	assert.False(t, result.Locked)
	assert.Equal(t, 1, result.FailureCount)

	f.report(t, "ghost@example.com")
	result = f.report(t, "ghost@example.com")

	// Flagged but nothing to lock and nothing to propagate
	assert.True(t, result.Flagged)
	assert.False(t, result.Locked)
	assert.Empty(t, f.gateway.BlockCalls())
	assert.Empty(t, f.notifier.Events())

	stored := f.events.All()
	assert.Len(t, stored, 3)
	for _, e := range stored {
		assert.Equal(t, "ghost@example.com", e.Subject)
		assert.Equal(t, models.OriginLocal, e.Origin)
	}
}

func TestIngestReportFailure_ResolvesEmailAliasToSubject(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1@example.com")

	stored := f.events.All()
	assert.Len(t, stored, 1)
	assert.Equal(t, "user1", stored[0].Subject)
}

func TestIngestReportFailure_EmptySubjectRejected(t *testing.T) {
	f := newIngestFixture()

	_, err := f.service.ReportFailure(context.Background(), services.ReportFailureInput{
		SubjectOrAlias: "   ",
	})

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestIngestReportFailure_InvalidReasonDefaults(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	_, err := f.service.ReportFailure(context.Background(), services.ReportFailureInput{
		SubjectOrAlias: "user1",
		Reason:         models.FailureReason("not_a_reason"),
	})
	assert.NoError(t, err)

	stored := f.events.All()
	assert.Len(t, stored, 1)
	assert.Equal(t, models.ReasonInvalidCredentials, stored[0].Reason)
}

func TestIngestReportFailure_FlaggedAtInsertSnapshot(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1")
	f.report(t, "user1")
	f.report(t, "user1")

	stored := f.events.All()
	assert.Len(t, stored, 3)
	assert.False(t, stored[0].FlaggedAtInsert)
	assert.False(t, stored[1].FlaggedAtInsert)
	assert.True(t, stored[2].FlaggedAtInsert)
}

func TestIngestReportFailure_ConcurrentThresholdRace(t *testing.T) {
	f := newIngestFixture()
	f.accounts.Put(services.NewTestAccount("user1", "user1@example.com", "auth0|user1"))

	f.report(t, "user1")
	f.report(t, "user1")

	// Two more failures race past the threshold
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.ReportFailure(context.Background(), services.ReportFailureInput{
				SubjectOrAlias: "user1",
				Reason:         models.ReasonInvalidCredentials,
			})
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])

	account, err := f.accounts.GetBySubject(context.Background(), "user1")
	assert.NoError(t, err)
	assert.True(t, account.Locked)

	// Both racers may mirror the lock; every call must be a block
	calls := f.gateway.BlockCalls()
	assert.GreaterOrEqual(t, len(calls), 1)
	for _, call := range calls {
		assert.True(t, call.Blocked)
	}
}
