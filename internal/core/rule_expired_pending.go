package core

import (
	"context"
	"fmt"
	"time"

	"expirycore/pkg/domain"
)

// ExpiredPendingRule emits a warning for batches that passed their
// expiration date while still pending. Advisory only; it never blocks a
// commit.
func ExpiredPendingRule() domain.Rule {
	return expiredPendingRule{now: func() time.Time { return time.Now().UTC() }}
}

type expiredPendingRule struct {
	now func() time.Time
}

func (expiredPendingRule) Name() string { return "expired_pending" }

func (r expiredPendingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	now := r.now()
	for _, product := range view.ListProducts() {
		for _, batch := range product.Batches {
			if batch.Status.IsTreated() || batch.ExpiresAt.IsZero() || !batch.ExpiresAt.Before(now) {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "expired_pending",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("batch %q of product %q expired on %s and is still pending", batch.Label, product.Name, batch.ExpiresAt.Format("2006-01-02")),
				Entity:   domain.EntityBatch,
				EntityID: fmt.Sprintf("%d", batch.ID),
			})
		}
	}
	return res, nil
}
