package core

import (
	"context"
	"fmt"

	"expirycore/pkg/domain"
)

// BatchOwnershipRule enforces the batch referential integrity the storage
// engine cannot: every batch's back-reference must name its owning product,
// and batch ids are unique across all products (global allocation).
func BatchOwnershipRule() domain.Rule {
	return batchOwnershipRule{}
}

type batchOwnershipRule struct{}

func (batchOwnershipRule) Name() string { return "batch_ownership" }

func (batchOwnershipRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[int]int)
	for _, product := range view.ListProducts() {
		for _, batch := range product.Batches {
			if batch.ProductID != product.ID {
				res.Violations = append(res.Violations, ownershipViolation(batch.ID,
					fmt.Sprintf("batch %d is held by product %d but references product %d", batch.ID, product.ID, batch.ProductID)))
			}
			if owner, dup := seen[batch.ID]; dup {
				res.Violations = append(res.Violations, ownershipViolation(batch.ID,
					fmt.Sprintf("batch id %d appears under products %d and %d", batch.ID, owner, product.ID)))
				continue
			}
			seen[batch.ID] = product.ID
		}
	}
	return res, nil
}

func ownershipViolation(batchID int, message string) domain.Violation {
	return domain.Violation{
		Rule:     "batch_ownership",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityBatch,
		EntityID: fmt.Sprintf("%d", batchID),
	}
}
