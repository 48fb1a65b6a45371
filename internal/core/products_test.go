package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"expirycore/pkg/domain"
)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

func futureDate(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, days)
}

func TestCreateProductMergesBatchesByCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	firstID, _, err := svc.CreateProduct(ctx, domain.Product{
		Name:    "Milk",
		Code:    "789100000",
		Batches: []domain.Batch{{Label: "l1", Amount: 2, ExpiresAt: futureDate(10)}},
	}, false)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if firstID == 0 {
		t.Fatalf("first create must return a fresh id")
	}

	mergedID, _, err := svc.CreateProduct(ctx, domain.Product{
		Name:    "Milk 2",
		Code:    "789100000",
		Batches: []domain.Batch{{Label: "l2", Amount: 3, ExpiresAt: futureDate(20)}},
	}, false)
	if err != nil {
		t.Fatalf("create duplicate with batches: %v", err)
	}
	if mergedID != 0 {
		t.Fatalf("merge path must not allocate a product id, got %d", mergedID)
	}

	products := svc.ListProducts(ctx)
	if len(products) != 1 {
		t.Fatalf("merge must not add a product, have %d", len(products))
	}
	got := products[0]
	if got.Name != "Milk" {
		t.Fatalf("merge must keep the original record, got name %q", got.Name)
	}
	if len(got.Batches) != 2 {
		t.Fatalf("expected 2 batches after merge, got %d", len(got.Batches))
	}
	labels := []string{got.Batches[0].Label, got.Batches[1].Label}
	if strings.Join(labels, ",") != "l1,l2" {
		t.Fatalf("unexpected batch labels %v", labels)
	}
	for _, b := range got.Batches {
		if b.ProductID != got.ID {
			t.Fatalf("merged batch must belong to the surviving product")
		}
	}
}

func TestCreateProductDuplicateWithoutBatches(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789"}, false); err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk again", Code: "789"}, false)
	if !domain.IsDuplicate(err) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}

	// ignoreDuplicate turns the same call into a no-op.
	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk again", Code: "789"}, true)
	if err != nil {
		t.Fatalf("ignoreDuplicate create: %v", err)
	}
	if id != 0 {
		t.Fatalf("ignored duplicate must not allocate an id, got %d", id)
	}
	if got := len(svc.ListProducts(ctx)); got != 1 {
		t.Fatalf("ignored duplicate must not add a product, have %d", got)
	}
}

func TestCreateProductSameCodeDifferentStores(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	main, err := svc.CreateStore(ctx, "Main")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	branch, err := svc.CreateStore(ctx, "Branch")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789", Store: domain.StoreByID(main.ID)}, false); err != nil {
		t.Fatalf("create in main: %v", err)
	}
	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789", Store: domain.StoreByID(branch.ID)}, false)
	if err != nil {
		t.Fatalf("same code in another store must be allowed: %v", err)
	}
	if id == 0 {
		t.Fatalf("distinct store scope must create a fresh product")
	}
	if got := len(svc.ListProducts(ctx)); got != 2 {
		t.Fatalf("expected 2 products, have %d", got)
	}
}

func TestCreateProductRequiresName(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.CreateProduct(context.Background(), domain.Product{Name: "   "}, false)
	if !domain.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestUpdateProductPartial(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _, err := svc.CreateProduct(ctx, domain.Product{
		Name:       "Milk",
		Code:       "789",
		Categories: []string{},
	}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newName := "Whole Milk"
	updated, err := svc.UpdateProduct(ctx, ProductUpdate{ID: id, Name: &newName})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Whole Milk" {
		t.Fatalf("name not updated, got %q", updated.Name)
	}
	if updated.Code != "789" {
		t.Fatalf("untouched field must survive, got code %q", updated.Code)
	}

	ref := domain.StoreByName("corner shop")
	updated, err = svc.UpdateProduct(ctx, ProductUpdate{ID: id, Store: &ref})
	if err != nil {
		t.Fatalf("update store: %v", err)
	}
	if updated.Store.LegacyName() != "corner shop" {
		t.Fatalf("store ref not updated, got %s", updated.Store)
	}
	if updated.Name != "Whole Milk" {
		t.Fatalf("earlier update lost, got %q", updated.Name)
	}

	empty := ""
	if _, err := svc.UpdateProduct(ctx, ProductUpdate{ID: id, Name: &empty}); !domain.IsValidation(err) {
		t.Fatalf("blank name must fail validation, got %v", err)
	}
}

func TestDeleteProductToleratesMissingPhoto(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk"}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	photo := "milk.jpg"
	if _, err := svc.UpdateProduct(ctx, ProductUpdate{ID: id, Photo: &photo}); err != nil {
		t.Fatalf("set photo name: %v", err)
	}

	// The photo bytes were never uploaded; delete must still succeed.
	if err := svc.DeleteProduct(ctx, id); err != nil {
		t.Fatalf("delete with missing photo bytes: %v", err)
	}
	if _, err := svc.GetProductByID(ctx, id); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFoundError after delete, got %v", err)
	}
}

func TestGetProductByCodeScoping(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	st, err := svc.CreateStore(ctx, "Main")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789", Store: domain.StoreByID(st.ID)}, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Unscoped lookup finds the product regardless of its store.
	got, err := svc.GetProductByCode(ctx, "789", domain.NoStore())
	if err != nil {
		t.Fatalf("unscoped lookup: %v", err)
	}
	if got.Name != "Milk" {
		t.Fatalf("unexpected product %+v", got)
	}

	if _, err := svc.GetProductByCode(ctx, "789", domain.StoreByName("Elsewhere")); !domain.IsNotFound(err) {
		t.Fatalf("lookup in foreign store must miss, got %v", err)
	}

	exists, err := svc.ExistsByCode(ctx, "789", domain.StoreByID(st.ID))
	if err != nil || !exists {
		t.Fatalf("ExistsByCode: exists=%v err=%v", exists, err)
	}
}
