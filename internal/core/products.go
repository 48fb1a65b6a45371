package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"expirycore/internal/blob"
	"expirycore/pkg/domain"
)

// CreateProduct inserts a product or merges it into an existing one. When
// another product in the same store scope already carries the code, the new
// record's batches are appended to the existing product and the merge returns
// id zero. A duplicate without batches is rejected unless ignoreDuplicate is
// set, in which case the call is a no-op.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product, ignoreDuplicate bool) (id int, res domain.Result, err error) {
	defer func(start time.Time) { s.observe("create_product", start, err) }(s.clock.Now())
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return 0, domain.Result{}, domain.ValidationError{Entity: domain.EntityProduct, Field: "name", Reason: "name is required"}
	}
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if product.Code != "" {
			if existing, ok := FindProductByCode(tx.Snapshot(), product.Code, product.Store); ok {
				if len(product.Batches) == 0 {
					if ignoreDuplicate {
						return nil
					}
					return domain.DuplicateError{Entity: domain.EntityProduct, Key: product.Code}
				}
				for _, b := range product.Batches {
					if _, err := tx.CreateBatch(existing.ID, b); err != nil {
						return err
					}
				}
				return nil
			}
		}
		created, err := tx.CreateProduct(product)
		if err != nil {
			return err
		}
		id = created.ID
		return nil
	})
	if err != nil {
		return 0, domain.Result{}, err
	}
	return id, res, nil
}

// FindProductByCode locates a product carrying the code within the same
// resolved store scope as ref. An absent reference matches any product with
// the code regardless of store. Create and import both resolve duplicates
// through this lookup.
func FindProductByCode(view domain.TransactionView, code string, ref domain.StoreRef) (domain.Product, bool) {
	stores := view.ListStores()
	scoped := !ref.IsNone()
	identity := resolveStoreIdentity(ref, stores)
	for _, product := range view.ListProducts() {
		if product.Code != code {
			continue
		}
		if scoped && resolveStoreIdentity(product.Store, stores) != identity {
			continue
		}
		return product, true
	}
	return domain.Product{}, false
}

// ProductUpdate carries a partial product update. Nil fields are untouched;
// a nil Categories slice leaves the assignment alone while an empty one
// clears it.
type ProductUpdate struct {
	ID         int
	Name       *string
	Code       *string
	Photo      *string
	Store      *domain.StoreRef
	Categories []string
}

// UpdateProduct applies a partial update to a product.
func (s *Service) UpdateProduct(ctx context.Context, upd ProductUpdate) (product domain.Product, err error) {
	defer func(start time.Time) { s.observe("update_product", start, err) }(s.clock.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		product, txErr = tx.UpdateProduct(upd.ID, func(p *domain.Product) error {
			if upd.Name != nil {
				name := strings.TrimSpace(*upd.Name)
				if name == "" {
					return domain.ValidationError{Entity: domain.EntityProduct, Field: "name", Reason: "name is required"}
				}
				p.Name = name
			}
			if upd.Code != nil {
				p.Code = *upd.Code
			}
			if upd.Photo != nil {
				p.Photo = *upd.Photo
			}
			if upd.Store != nil {
				p.Store = *upd.Store
			}
			if upd.Categories != nil {
				p.Categories = append([]string(nil), upd.Categories...)
			}
			return nil
		})
		return txErr
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// DeleteProduct removes a product and all of its batches. The product photo
// is deleted from the blob store first; a photo that is already gone is not
// an error.
func (s *Service) DeleteProduct(ctx context.Context, id int) (err error) {
	defer func(start time.Time) { s.observe("delete_product", start, err) }(s.clock.Now())
	product, ok := s.store.GetProduct(id)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProduct, Key: strconv.Itoa(id)}
	}
	if product.Photo != "" {
		key := ProductImageKey(product.ID, product.Photo)
		if _, derr := s.photos.Delete(ctx, key); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
			return domain.StorageError{Op: "delete photo", Err: derr}
		}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteProduct(id)
	})
	return err
}

// GetProductByID fetches a single product.
func (s *Service) GetProductByID(ctx context.Context, id int) (domain.Product, error) {
	product, ok := s.store.GetProduct(id)
	if !ok {
		return domain.Product{}, domain.NotFoundError{Entity: domain.EntityProduct, Key: strconv.Itoa(id)}
	}
	return product, nil
}

// GetProductByCode fetches the product carrying the code inside the store
// scope of ref, searching every store when ref is absent.
func (s *Service) GetProductByCode(ctx context.Context, code string, ref domain.StoreRef) (product domain.Product, err error) {
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		found, ok := FindProductByCode(view, code, ref)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityProduct, Key: code}
		}
		product = found
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// ExistsByCode reports whether any product carries the code in the store
// scope of ref.
func (s *Service) ExistsByCode(ctx context.Context, code string, ref domain.StoreRef) (bool, error) {
	exists := false
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		_, exists = FindProductByCode(view, code, ref)
		return nil
	})
	return exists, err
}

// ListProducts returns every product ordered by id.
func (s *Service) ListProducts(ctx context.Context) []domain.Product {
	return s.store.ListProducts()
}
