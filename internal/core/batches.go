package core

import (
	"context"
	"sort"
	"time"

	"expirycore/pkg/domain"
)

// BatchCreate identifies the owning product either directly by id or by
// (code, store) lookup, then carries the batch to insert.
type BatchCreate struct {
	ProductID   int
	ProductCode string
	Store       domain.StoreRef
	Batch       domain.Batch
}

// CreateBatch inserts a batch under the product identified by the request.
// Resolution and insert happen in one transaction so that the owner cannot
// disappear in between.
func (s *Service) CreateBatch(ctx context.Context, req BatchCreate) (batch domain.Batch, res domain.Result, err error) {
	defer func(start time.Time) { s.observe("create_batch", start, err) }(s.clock.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		productID := req.ProductID
		if productID == 0 {
			owner, ok := FindProductByCode(tx.Snapshot(), req.ProductCode, req.Store)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityProduct, Key: req.ProductCode}
			}
			productID = owner.ID
		}
		var txErr error
		batch, txErr = tx.CreateBatch(productID, req.Batch)
		return txErr
	})
	if err != nil {
		return domain.Batch{}, domain.Result{}, err
	}
	return batch, res, nil
}

// UpdateBatch applies a mutation to a batch in one transaction.
func (s *Service) UpdateBatch(ctx context.Context, id int, mutator func(*domain.Batch) error) (batch domain.Batch, err error) {
	defer func(start time.Time) { s.observe("update_batch", start, err) }(s.clock.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		batch, txErr = tx.UpdateBatch(id, mutator)
		return txErr
	})
	if err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

// SetBatchStatus marks a batch treated or pending.
func (s *Service) SetBatchStatus(ctx context.Context, id int, status domain.BatchStatus) (domain.Batch, error) {
	return s.UpdateBatch(ctx, id, func(b *domain.Batch) error {
		b.Status = status
		return nil
	})
}

// DeleteBatch removes a single batch.
func (s *Service) DeleteBatch(ctx context.Context, id int) (err error) {
	defer func(start time.Time) { s.observe("delete_batch", start, err) }(s.clock.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteBatch(id)
	})
	return err
}

// SortBatchesByExpiration returns a copy of the batches ordered soonest
// expiration first. Equal expirations keep their relative order.
func SortBatchesByExpiration(batches []domain.Batch) []domain.Batch {
	sorted := append([]domain.Batch(nil), batches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExpiresAt.Before(sorted[j].ExpiresAt)
	})
	return sorted
}

// PartitionBatchesByStatus splits batches into treated and pending groups.
// Unknown statuses count as pending so nothing silently drops out of view.
func PartitionBatchesByStatus(batches []domain.Batch) (treated, pending []domain.Batch) {
	for _, b := range batches {
		if b.Status.IsTreated() {
			treated = append(treated, b)
		} else {
			pending = append(pending, b)
		}
	}
	return treated, pending
}
