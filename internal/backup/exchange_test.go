package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"expirycore/internal/core"
	"expirycore/pkg/domain"
)

func newServicePair(t *testing.T) (src, dst *core.Service) {
	t.Helper()
	src = core.NewInMemoryService(core.NewDefaultRulesEngine())
	dst = core.NewInMemoryService(core.NewDefaultRulesEngine())
	return src, dst
}

func seedSource(t *testing.T, svc *core.Service) {
	t.Helper()
	ctx := context.Background()
	st, err := svc.CreateStore(ctx, "Main")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	cat, err := svc.CreateCategory(ctx, "Dairy")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	price := 4.2
	id, _, err := svc.CreateProduct(ctx, domain.Product{
		Name:       "Milk",
		Code:       "789",
		Store:      domain.StoreByID(st.ID),
		Categories: []string{cat.ID},
		Batches: []domain.Batch{{
			Label:     "l1",
			Amount:    2,
			Price:     &price,
			ExpiresAt: time.Now().UTC().AddDate(0, 1, 0),
		}},
	}, false)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, _, err := svc.CreateProduct(ctx, domain.Product{Name: "Loose Bread", Store: domain.StoreByName("Corner Shop")}, false); err != nil {
		t.Fatalf("create legacy product: %v", err)
	}
	if err := svc.SaveProductPhoto(ctx, id, "milk.jpg", "image/jpeg", strings.NewReader("jpegbytes")); err != nil {
		t.Fatalf("save photo: %v", err)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	src, dst := newServicePair(t)
	ctx := context.Background()
	seedSource(t, src)

	var buf bytes.Buffer
	if err := NewExchange(src, nil).WriteArchive(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Pre-existing data in the destination must survive untouched.
	if _, _, err := dst.CreateProduct(ctx, domain.Product{Name: "Existing"}, false); err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	summary, err := NewExchange(dst, nil).ImportArchive(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if summary.Products != 2 || summary.Batches != 1 || summary.Stores != 1 || summary.Categories != 1 || summary.Photos != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	products := dst.ListProducts(ctx)
	if len(products) != 3 {
		t.Fatalf("expected 3 products after import, got %d", len(products))
	}

	milk, err := dst.GetProductByCode(ctx, "789", domain.NoStore())
	if err != nil {
		t.Fatalf("find imported product: %v", err)
	}
	if len(milk.Batches) != 1 || milk.Batches[0].ProductID != milk.ID {
		t.Fatalf("batch relationship lost: %+v", milk.Batches)
	}
	if milk.Store.Kind() != domain.StoreRefByID {
		t.Fatalf("store ref lost: %s", milk.Store)
	}
	mappedStore, ok := dst.GetStore(milk.Store.ID())
	if !ok || mappedStore.Name != "Main" {
		t.Fatalf("imported store not resolvable: %+v ok=%v", mappedStore, ok)
	}
	if len(milk.Categories) != 1 {
		t.Fatalf("category reference lost: %v", milk.Categories)
	}
	cats := dst.ListCategories(ctx)
	if len(cats) != 1 || cats[0].ID != milk.Categories[0] {
		t.Fatalf("category remap broken: product has %v, registry has %+v", milk.Categories, cats)
	}

	// Photo must be reachable under the remapped product id.
	_, rc, err := dst.OpenProductPhoto(ctx, milk.ID)
	if err != nil {
		t.Fatalf("open restored photo: %v", err)
	}
	rc.Close()

	// Legacy store name travels as-is.
	entries, err := dst.GetAllStores(ctx)
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	legacySeen := false
	for _, e := range entries {
		if e.Legacy() && e.Name == "Corner Shop" {
			legacySeen = true
		}
	}
	if !legacySeen {
		t.Fatalf("legacy store name lost: %+v", entries)
	}
}

func TestImportAssignsFreshIdentifiers(t *testing.T) {
	src, dst := newServicePair(t)
	ctx := context.Background()

	srcStore, err := src.CreateStore(ctx, "Main")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, _, err := src.CreateProduct(ctx, domain.Product{Name: "Milk", Store: domain.StoreByID(srcStore.ID)}, false); err != nil {
		t.Fatalf("create product: %v", err)
	}

	var buf bytes.Buffer
	if err := NewExchange(src, nil).WriteArchive(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := NewExchange(dst, nil).ImportArchive(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		t.Fatalf("import: %v", err)
	}

	entries, err := dst.GetAllStores(ctx)
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 store, got %+v", entries)
	}
	if entries[0].ID == srcStore.ID {
		t.Fatalf("imported store must get a fresh id")
	}
}

func TestImportReusesStoresByName(t *testing.T) {
	src, dst := newServicePair(t)
	ctx := context.Background()

	if _, err := src.CreateStore(ctx, "Main"); err != nil {
		t.Fatalf("create source store: %v", err)
	}
	existing, err := dst.CreateStore(ctx, "main")
	if err != nil {
		t.Fatalf("create destination store: %v", err)
	}

	var buf bytes.Buffer
	if err := NewExchange(src, nil).WriteArchive(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	summary, err := NewExchange(dst, nil).ImportArchive(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if summary.Stores != 0 {
		t.Fatalf("name match must reuse the existing store, got %+v", summary)
	}
	entries, err := dst.GetAllStores(ctx)
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != existing.ID {
		t.Fatalf("store duplicated on import: %+v", entries)
	}
}

func TestImportMergesProductsByCode(t *testing.T) {
	src, dst := newServicePair(t)
	ctx := context.Background()

	if _, _, err := src.CreateProduct(ctx, domain.Product{
		Name:    "Milk",
		Code:    "789",
		Batches: []domain.Batch{{Label: "archived", Amount: 3, ExpiresAt: time.Now().UTC().AddDate(0, 2, 0)}},
	}, false); err != nil {
		t.Fatalf("seed source: %v", err)
	}

	// The destination already tracks the barcode in the same scope.
	existingID, _, err := dst.CreateProduct(ctx, domain.Product{
		Name:    "Whole Milk",
		Code:    "789",
		Batches: []domain.Batch{{Label: "local", Amount: 1, ExpiresAt: time.Now().UTC().AddDate(0, 1, 0)}},
	}, false)
	if err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	var buf bytes.Buffer
	if err := NewExchange(src, nil).WriteArchive(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	summary, err := NewExchange(dst, nil).ImportArchive(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("import into non-fresh destination: %v", err)
	}
	if summary.Products != 0 || summary.Batches != 1 {
		t.Fatalf("merge must add batches without a new product, got %+v", summary)
	}

	products := dst.ListProducts(ctx)
	if len(products) != 1 {
		t.Fatalf("expected the existing product only, got %d", len(products))
	}
	merged, err := dst.GetProductByID(ctx, existingID)
	if err != nil {
		t.Fatalf("fetch merged product: %v", err)
	}
	if merged.Name != "Whole Milk" {
		t.Fatalf("existing product must keep its name, got %q", merged.Name)
	}
	if len(merged.Batches) != 2 {
		t.Fatalf("expected 2 batches after merge, got %+v", merged.Batches)
	}
	labels := map[string]bool{}
	for _, b := range merged.Batches {
		labels[b.Label] = true
		if b.ProductID != merged.ID {
			t.Fatalf("batch %q not owned by merged product: %+v", b.Label, b)
		}
	}
	if !labels["local"] || !labels["archived"] {
		t.Fatalf("batch set wrong after merge: %v", labels)
	}
}

func TestImportKeepsSameCodeApartAcrossStores(t *testing.T) {
	src, dst := newServicePair(t)
	ctx := context.Background()

	srcStore, err := src.CreateStore(ctx, "Branch")
	if err != nil {
		t.Fatalf("create source store: %v", err)
	}
	if _, _, err := src.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789", Store: domain.StoreByID(srcStore.ID)}, false); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if _, _, err := dst.CreateProduct(ctx, domain.Product{Name: "Milk", Code: "789"}, false); err != nil {
		t.Fatalf("seed destination: %v", err)
	}

	var buf bytes.Buffer
	if err := NewExchange(src, nil).WriteArchive(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	summary, err := NewExchange(dst, nil).ImportArchive(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if summary.Products != 1 {
		t.Fatalf("different store scope must not merge, got %+v", summary)
	}
	if got := len(dst.ListProducts(ctx)); got != 2 {
		t.Fatalf("expected 2 products, got %d", got)
	}
}

func TestImportRejectsMalformedArchives(t *testing.T) {
	_, dst := newServicePair(t)
	exchange := NewExchange(dst, nil)
	ctx := context.Background()

	garbage := []byte("definitely not a zip")
	var integrity domain.ImportIntegrityError
	if _, err := exchange.ImportArchive(ctx, bytes.NewReader(garbage), int64(len(garbage))); !errors.As(err, &integrity) {
		t.Fatalf("expected ImportIntegrityError, got %v", err)
	}

	// A valid zip without a snapshot entry is also rejected.
	var empty bytes.Buffer
	zw := zip.NewWriter(&empty)
	if _, err := zw.Create("unrelated.txt"); err != nil {
		t.Fatalf("zip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if _, err := exchange.ImportArchive(ctx, bytes.NewReader(empty.Bytes()), int64(empty.Len())); !errors.As(err, &integrity) {
		t.Fatalf("expected ImportIntegrityError for missing snapshot, got %v", err)
	}

	// A malformed snapshot document leaves the destination untouched.
	var badDoc bytes.Buffer
	zw = zip.NewWriter(&badDoc)
	entry, err := zw.Create("snapshot.json")
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if _, err := entry.Write([]byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if _, err := exchange.ImportArchive(ctx, bytes.NewReader(badDoc.Bytes()), int64(badDoc.Len())); !errors.As(err, &integrity) {
		t.Fatalf("expected ImportIntegrityError for bad snapshot, got %v", err)
	}
	if got := len(dst.ListProducts(ctx)); got != 0 {
		t.Fatalf("failed import must leave nothing behind, got %d products", got)
	}
}

func TestExportStoresArtifactInBlobStore(t *testing.T) {
	src, _ := newServicePair(t)
	ctx := context.Background()
	seedSource(t, src)

	exchange := NewExchange(src, nil)
	info, err := exchange.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, "backups/") || !strings.HasSuffix(info.Key, ".zip") {
		t.Fatalf("unexpected artifact key %q", info.Key)
	}

	// The stored artifact can be imported back.
	dst := core.NewInMemoryService(core.NewDefaultRulesEngine(), core.WithPhotoStore(src.Photos()))
	summary, err := NewExchange(dst, nil).ImportFromBlob(ctx, info.Key)
	if err != nil {
		t.Fatalf("import from blob: %v", err)
	}
	if summary.Products != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestWorkerRunsExportJobs(t *testing.T) {
	src, _ := newServicePair(t)
	seedSource(t, src)

	worker := NewWorker(NewExchange(src, nil), nil)
	worker.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := worker.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}()

	job, err := worker.Enqueue()
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Fatalf("fresh job must be queued, got %s", job.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, ok := worker.GetJob(job.ID)
		if !ok {
			t.Fatalf("job disappeared")
		}
		if got.Status == JobStatusSucceeded {
			if got.Artifact == nil || !strings.HasPrefix(got.Artifact.Key, "backups/") {
				t.Fatalf("missing artifact on completed job: %+v", got)
			}
			break
		}
		if got.Status == JobStatusFailed {
			t.Fatalf("job failed: %s", got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
