package core

import (
	"context"
	"testing"
	"time"

	"expirycore/pkg/domain"
)

func TestCreateBatchByProductCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789"}, false)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	batch, _, err := svc.CreateBatch(ctx, BatchCreate{
		ProductCode: "789",
		Batch:       domain.Batch{Label: "l1", Amount: 4, ExpiresAt: futureDate(15)},
	})
	if err != nil {
		t.Fatalf("create batch by code: %v", err)
	}
	if batch.ProductID != id {
		t.Fatalf("batch attached to wrong product: %d", batch.ProductID)
	}
	if batch.Status != domain.BatchStatusPending {
		t.Fatalf("default status must be pending, got %s", batch.Status)
	}

	if _, _, err := svc.CreateBatch(ctx, BatchCreate{ProductCode: "000"}); !domain.IsNotFound(err) {
		t.Fatalf("unknown code must fail, got %v", err)
	}
}

func TestSetBatchStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk"}, false)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	batch, _, err := svc.CreateBatch(ctx, BatchCreate{ProductID: id, Batch: domain.Batch{Label: "l1"}})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	treated, err := svc.SetBatchStatus(ctx, batch.ID, domain.BatchStatusTreated)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if !treated.Status.IsTreated() {
		t.Fatalf("status not applied, got %s", treated.Status)
	}

	if err := svc.DeleteBatch(ctx, batch.ID); err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	product, err := svc.GetProductByID(ctx, id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if len(product.Batches) != 0 {
		t.Fatalf("batch must be gone, have %d", len(product.Batches))
	}
}

func TestSortBatchesByExpiration(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC) }
	batches := []domain.Batch{
		{ID: 1, Label: "late", ExpiresAt: day(20)},
		{ID: 2, Label: "soon", ExpiresAt: day(5)},
		{ID: 3, Label: "tie-a", ExpiresAt: day(10)},
		{ID: 4, Label: "tie-b", ExpiresAt: day(10)},
	}

	sorted := SortBatchesByExpiration(batches)
	want := []string{"soon", "tie-a", "tie-b", "late"}
	for i, label := range want {
		if sorted[i].Label != label {
			t.Fatalf("position %d: want %q, got %q", i, label, sorted[i].Label)
		}
	}
	// The input order is untouched.
	if batches[0].Label != "late" {
		t.Fatalf("sort must not mutate its input")
	}
	// Sorting again yields the same order.
	again := SortBatchesByExpiration(sorted)
	for i := range again {
		if again[i].ID != sorted[i].ID {
			t.Fatalf("sort is not idempotent at position %d", i)
		}
	}
}

func TestPartitionBatchesByStatus(t *testing.T) {
	batches := []domain.Batch{
		{ID: 1, Status: domain.BatchStatusTreated},
		{ID: 2, Status: domain.BatchStatusPending},
		{ID: 3, Status: ""},
		{ID: 4, Status: "mystery"},
	}
	treated, pending := PartitionBatchesByStatus(batches)
	if len(treated) != 1 || treated[0].ID != 1 {
		t.Fatalf("unexpected treated set %+v", treated)
	}
	if len(pending) != 3 {
		t.Fatalf("unknown statuses must land in pending, got %+v", pending)
	}
	if len(treated)+len(pending) != len(batches) {
		t.Fatalf("partition must cover every batch")
	}
}

func TestUpdateBatchValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk"}, false)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	batch, _, err := svc.CreateBatch(ctx, BatchCreate{ProductID: id, Batch: domain.Batch{Label: "l1", Amount: 1}})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	_, err = svc.UpdateBatch(ctx, batch.ID, func(b *domain.Batch) error {
		b.Amount = -3
		return nil
	})
	if !domain.IsValidation(err) {
		t.Fatalf("negative amount must fail, got %v", err)
	}
}
