package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"expirycore/pkg/domain"
)

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expiry.db")

	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	price := 3.2
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.PutStore(domain.Store{ID: "st-1", Name: "Main"}); err != nil {
			return err
		}
		if _, err := tx.PutCategory(domain.Category{ID: "cat-1", Name: "Dairy"}); err != nil {
			return err
		}
		_, err := tx.CreateProduct(domain.Product{
			Name:       "Milk",
			Code:       "789",
			Store:      domain.StoreByID("st-1"),
			Categories: []string{"cat-1"},
			Batches: []domain.Batch{{
				Label:     "a",
				Amount:    2,
				Price:     &price,
				ExpiresAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
			}},
		})
		return err
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	products := reopened.ListProducts()
	if len(products) != 1 {
		t.Fatalf("expected 1 product after reload, got %d", len(products))
	}
	got := products[0]
	if got.Name != "Milk" || got.Code != "789" {
		t.Fatalf("product fields lost: %+v", got)
	}
	if got.Store.ID() != "st-1" {
		t.Fatalf("store ref lost: %s", got.Store)
	}
	if len(got.Batches) != 1 || got.Batches[0].Price == nil || *got.Batches[0].Price != 3.2 {
		t.Fatalf("batch lost: %+v", got.Batches)
	}
	if _, ok := reopened.GetStore("st-1"); !ok {
		t.Fatalf("store record lost")
	}
	if len(reopened.ListCategories()) != 1 {
		t.Fatalf("category record lost")
	}
}

func TestRollbackIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expiry.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(domain.Product{Name: "Milk"}); err != nil {
			return err
		}
		return domain.ValidationError{Entity: domain.EntityProduct, Field: "name", Reason: "forced"}
	}); err == nil {
		t.Fatalf("expected transaction error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if got := len(reopened.ListProducts()); got != 0 {
		t.Fatalf("rolled back write must not persist, got %d products", got)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() != "expirycore.db" {
		t.Fatalf("unexpected default path %q", store.Path())
	}
}
