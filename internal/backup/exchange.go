// Package backup exports the full record state plus photo files into a single
// portable zip artifact and restores such artifacts with fresh identifiers.
package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"expirycore/internal/blob"
	"expirycore/internal/core"
	"expirycore/pkg/domain"
)

const (
	archiveVersion  = 1
	snapshotEntry   = "snapshot.json"
	photoEntryDir   = "photos/"
	artifactPrefix  = "backups/"
	archiveMIMEType = "application/zip"
)

// Archive is the JSON document embedded in a backup zip.
type Archive struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Products   []domain.Product  `json:"products"`
	Stores     []domain.Store    `json:"stores"`
	Categories []domain.Category `json:"categories"`
}

// Summary counts what an import created.
type Summary struct {
	Products   int `json:"products"`
	Batches    int `json:"batches"`
	Stores     int `json:"stores"`
	Categories int `json:"categories"`
	Photos     int `json:"photos"`
}

// Exchange performs exports and imports against one service instance.
type Exchange struct {
	svc    *core.Service
	logger *slog.Logger
}

// NewExchange wires a backup exchange to the service. A nil logger discards.
func NewExchange(svc *core.Service, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exchange{svc: svc, logger: logger}
}

// WriteArchive streams a zip with the full record snapshot and every product
// photo to w. Photos whose bytes are missing from the blob store are skipped.
func (e *Exchange) WriteArchive(ctx context.Context, w io.Writer) error {
	archive := Archive{Version: archiveVersion, ExportedAt: time.Now().UTC()}
	err := e.svc.Store().View(ctx, func(view domain.TransactionView) error {
		archive.Products = view.ListProducts()
		archive.Stores = view.ListStores()
		archive.Categories = view.ListCategories()
		return nil
	})
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	entry, err := zw.Create(snapshotEntry)
	if err != nil {
		return domain.StorageError{Op: "write backup", Err: err}
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(archive); err != nil {
		return domain.StorageError{Op: "write backup", Err: err}
	}

	for _, product := range archive.Products {
		if product.Photo == "" {
			continue
		}
		key := core.ProductImageKey(product.ID, product.Photo)
		_, rc, gerr := e.svc.Photos().Get(ctx, key)
		if errors.Is(gerr, blob.ErrNotFound) {
			e.logger.Warn("photo missing, skipping", "product", product.ID, "file", product.Photo)
			continue
		}
		if gerr != nil {
			return domain.StorageError{Op: "read photo", Err: gerr}
		}
		dst, cerr := zw.Create(fmt.Sprintf("%s%d/%s", photoEntryDir, product.ID, product.Photo))
		if cerr == nil {
			_, cerr = io.Copy(dst, rc)
		}
		rc.Close()
		if cerr != nil {
			return domain.StorageError{Op: "write backup", Err: cerr}
		}
	}
	if err := zw.Close(); err != nil {
		return domain.StorageError{Op: "write backup", Err: err}
	}
	return nil
}

// Export builds a backup archive and stores it in the blob store under a
// fresh key. The stored artifact info is returned.
func (e *Exchange) Export(ctx context.Context) (blob.Info, error) {
	var buf bytes.Buffer
	if err := e.WriteArchive(ctx, &buf); err != nil {
		return blob.Info{}, err
	}
	key := artifactPrefix + uuid.NewString() + ".zip"
	info, err := e.svc.Photos().Put(ctx, key, &buf, blob.PutOptions{ContentType: archiveMIMEType})
	if err != nil {
		return blob.Info{}, domain.StorageError{Op: "store backup", Err: err}
	}
	e.logger.Info("backup exported", "key", info.Key, "bytes", info.Size)
	return info, nil
}

// ExportFile writes a backup archive to a local file path.
func (e *Exchange) ExportFile(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return domain.StorageError{Op: "create backup file", Err: err}
	}
	if err := e.WriteArchive(ctx, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImportArchive restores a backup into the service. Every imported record
// gets a fresh identifier; existing records are never overwritten. Stores and
// categories merge into existing ones by name, and a product whose code is
// already tracked in the same store scope merges its batches into the
// existing product. The whole import commits in one transaction, so a failed
// import leaves the destination untouched. Photos are restored afterwards
// under the new product identifiers; merged products keep their photos.
func (e *Exchange) ImportArchive(ctx context.Context, r io.ReaderAt, size int64) (Summary, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Summary{}, domain.ImportIntegrityError{Reason: "not a zip archive", Err: err}
	}
	archive, err := readSnapshot(zr)
	if err != nil {
		return Summary{}, err
	}
	if archive.Version != archiveVersion {
		return Summary{}, domain.ImportIntegrityError{Reason: fmt.Sprintf("unsupported archive version %d", archive.Version)}
	}

	summary := Summary{}
	storeIDs := make(map[string]string)
	categoryIDs := make(map[string]string)
	productIDs := make(map[int]int)

	_, err = e.svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, st := range archive.Stores {
			mapped, created, merr := mapStore(tx, st)
			if merr != nil {
				return merr
			}
			storeIDs[st.ID] = mapped
			if created {
				summary.Stores++
			}
		}
		for _, cat := range archive.Categories {
			mapped, created, merr := mapCategory(tx, cat)
			if merr != nil {
				return merr
			}
			categoryIDs[cat.ID] = mapped
			if created {
				summary.Categories++
			}
		}
		for _, product := range archive.Products {
			incoming, rerr := remapProduct(product, storeIDs, categoryIDs)
			if rerr != nil {
				return rerr
			}
			if incoming.Code != "" {
				if existing, ok := core.FindProductByCode(tx.Snapshot(), incoming.Code, incoming.Store); ok {
					// Same code in the same store scope: attach the archived
					// batches to the existing product instead of inserting a
					// colliding record. The existing photo stays untouched.
					for _, b := range incoming.Batches {
						if _, berr := tx.CreateBatch(existing.ID, b); berr != nil {
							return berr
						}
					}
					summary.Batches += len(incoming.Batches)
					continue
				}
			}
			created, cerr := tx.CreateProduct(incoming)
			if cerr != nil {
				return cerr
			}
			productIDs[product.ID] = created.ID
			summary.Products++
			summary.Batches += len(created.Batches)
		}
		return nil
	})
	if err != nil {
		var blocked domain.RuleViolationError
		if errors.As(err, &blocked) {
			return Summary{}, domain.ImportIntegrityError{Reason: "archive violates consistency rules", Err: err}
		}
		var integrity domain.ImportIntegrityError
		if errors.As(err, &integrity) {
			return Summary{}, integrity
		}
		return Summary{}, domain.ImportIntegrityError{Reason: "import transaction failed", Err: err}
	}

	restored, err := e.restorePhotos(ctx, zr, productIDs)
	if err != nil {
		return summary, err
	}
	summary.Photos = restored
	e.logger.Info("backup imported",
		"products", summary.Products,
		"batches", summary.Batches,
		"stores", summary.Stores,
		"categories", summary.Categories,
		"photos", summary.Photos)
	return summary, nil
}

// ImportFile restores a backup from a local file path.
func (e *Exchange) ImportFile(ctx context.Context, path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, domain.StorageError{Op: "open backup file", Err: err}
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Summary{}, domain.StorageError{Op: "open backup file", Err: err}
	}
	return e.ImportArchive(ctx, f, st.Size())
}

// ImportFromBlob restores a backup artifact previously stored by Export.
func (e *Exchange) ImportFromBlob(ctx context.Context, key string) (Summary, error) {
	_, rc, err := e.svc.Photos().Get(ctx, key)
	if err != nil {
		return Summary{}, domain.StorageError{Op: "fetch backup", Err: err}
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return Summary{}, domain.StorageError{Op: "fetch backup", Err: err}
	}
	return e.ImportArchive(ctx, bytes.NewReader(payload), int64(len(payload)))
}

func readSnapshot(zr *zip.Reader) (Archive, error) {
	for _, file := range zr.File {
		if file.Name != snapshotEntry {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return Archive{}, domain.ImportIntegrityError{Reason: "unreadable snapshot entry", Err: err}
		}
		defer rc.Close()
		var archive Archive
		if err := json.NewDecoder(rc).Decode(&archive); err != nil {
			return Archive{}, domain.ImportIntegrityError{Reason: "malformed snapshot entry", Err: err}
		}
		return archive, nil
	}
	return Archive{}, domain.ImportIntegrityError{Reason: "archive has no snapshot entry"}
}

// mapStore resolves an imported store to an existing one with the same name
// or registers it under a fresh identifier.
func mapStore(tx domain.Transaction, st domain.Store) (string, bool, error) {
	if st.Name == "" {
		return "", false, domain.ImportIntegrityError{Reason: fmt.Sprintf("store %s has no name", st.ID)}
	}
	for _, existing := range tx.Snapshot().ListStores() {
		if existing.EqualFoldName(st.Name) {
			return existing.ID, false, nil
		}
	}
	created, err := tx.PutStore(domain.Store{ID: uuid.NewString(), Name: st.Name})
	if err != nil {
		return "", false, err
	}
	return created.ID, true, nil
}

func mapCategory(tx domain.Transaction, cat domain.Category) (string, bool, error) {
	if cat.Name == "" {
		return "", false, domain.ImportIntegrityError{Reason: fmt.Sprintf("category %s has no name", cat.ID)}
	}
	for _, existing := range tx.Snapshot().ListCategories() {
		if existing.EqualFoldName(cat.Name) {
			return existing.ID, false, nil
		}
	}
	created, err := tx.PutCategory(domain.Category{ID: uuid.NewString(), Name: cat.Name})
	if err != nil {
		return "", false, err
	}
	return created.ID, true, nil
}

// remapProduct rewrites an imported product's identifiers through the maps
// built earlier in the same transaction. Ids are cleared so the insert
// allocates fresh ones.
func remapProduct(product domain.Product, storeIDs, categoryIDs map[string]string) (domain.Product, error) {
	product.ID = 0
	if product.Store.Kind() == domain.StoreRefByID {
		mapped, ok := storeIDs[product.Store.ID()]
		if !ok {
			return domain.Product{}, domain.ImportIntegrityError{
				Reason: fmt.Sprintf("product %q references unknown store %s", product.Name, product.Store.ID()),
			}
		}
		product.Store = domain.StoreByID(mapped)
	}
	if len(product.Categories) > 0 {
		remapped := make([]string, 0, len(product.Categories))
		for _, old := range product.Categories {
			mapped, ok := categoryIDs[old]
			if !ok {
				return domain.Product{}, domain.ImportIntegrityError{
					Reason: fmt.Sprintf("product %q references unknown category %s", product.Name, old),
				}
			}
			remapped = append(remapped, mapped)
		}
		product.Categories = remapped
	}
	batches := make([]domain.Batch, len(product.Batches))
	for i, b := range product.Batches {
		b.ID = 0
		b.ProductID = 0
		batches[i] = b
	}
	product.Batches = batches
	return product, nil
}

// restorePhotos copies photo entries from the archive into the blob store
// under the remapped product identifiers.
func (e *Exchange) restorePhotos(ctx context.Context, zr *zip.Reader, productIDs map[int]int) (int, error) {
	restored := 0
	for _, file := range zr.File {
		oldID, fileName, ok := parsePhotoEntry(file.Name)
		if !ok {
			continue
		}
		newID, mapped := productIDs[oldID]
		if !mapped {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return restored, domain.ImportIntegrityError{Reason: "unreadable photo entry", Err: err}
		}
		key := core.ProductImageKey(newID, fileName)
		if _, derr := e.svc.Photos().Delete(ctx, key); derr != nil {
			rc.Close()
			return restored, domain.StorageError{Op: "restore photo", Err: derr}
		}
		_, perr := e.svc.Photos().Put(ctx, key, rc, blob.PutOptions{})
		rc.Close()
		if perr != nil {
			return restored, domain.StorageError{Op: "restore photo", Err: perr}
		}
		restored++
	}
	return restored, nil
}

// parsePhotoEntry splits "photos/<productID>/<file>" archive paths.
func parsePhotoEntry(name string) (int, string, bool) {
	if !strings.HasPrefix(name, photoEntryDir) {
		return 0, "", false
	}
	rest := strings.TrimPrefix(name, photoEntryDir)
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return 0, "", false
	}
	id, err := strconv.Atoi(rest[:idx])
	if err != nil {
		return 0, "", false
	}
	return id, rest[idx+1:], true
}
