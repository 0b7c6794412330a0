package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/repositories"
)

// SeedAccount inserts an unlocked account
func (db *TestDB) SeedAccount(ctx context.Context, subject, email, providerRef string) (*models.Account, error) {
	repo := repositories.NewAccountRepository(db.DB)
	account, err := repo.Create(ctx, &models.Account{
		Subject:     subject,
		Email:       email,
		ProviderRef: providerRef,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed account: %w", err)
	}
	return account, nil
}

// FailuresInWindow reads back recorded events for assertions
func (db *TestDB) FailuresInWindow(ctx context.Context, start, end time.Time) ([]*models.FailureEvent, error) {
	repo := repositories.NewFailureEventRepository(db.DB)
	return repo.ListInWindow(ctx, start, end)
}

// SeedFailures inserts count local failure events spaced a minute apart,
// the newest at end
func (db *TestDB) SeedFailures(ctx context.Context, subject string, count int, end time.Time) error {
	repo := repositories.NewFailureEventRepository(db.DB)
	for i := 0; i < count; i++ {
		_, err := repo.Record(ctx, &models.FailureEvent{
			Subject:    subject,
			SourceIP:   "192.0.2.1",
			UserAgent:  "integration-test",
			OccurredAt: end.Add(-time.Duration(i) * time.Minute),
			Reason:     models.ReasonInvalidCredentials,
			Origin:     models.OriginLocal,
		})
		if err != nil {
			return fmt.Errorf("failed to seed failure event: %w", err)
		}
	}
	return nil
}
