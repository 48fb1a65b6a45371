package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"expirycore/internal/blob"
	"expirycore/pkg/domain"
)

// ProductImageKey builds the blob key for a product photo file.
func ProductImageKey(productID int, fileName string) string {
	return fmt.Sprintf("products/%d/%s", productID, fileName)
}

// ImageFileNameFromKey recovers the file name component of a photo key.
func ImageFileNameFromKey(key string) string {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

// SaveProductPhoto stores the photo bytes and records the file name on the
// product, replacing any previous photo.
func (s *Service) SaveProductPhoto(ctx context.Context, productID int, fileName, contentType string, r io.Reader) (err error) {
	defer func(start time.Time) { s.observe("save_product_photo", start, err) }(s.clock.Now())
	product, ok := s.store.GetProduct(productID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProduct, Key: strconv.Itoa(productID)}
	}
	if product.Photo != "" && product.Photo != fileName {
		old := ProductImageKey(productID, product.Photo)
		if _, derr := s.photos.Delete(ctx, old); derr != nil {
			return domain.StorageError{Op: "replace photo", Err: derr}
		}
	}
	key := ProductImageKey(productID, fileName)
	if _, derr := s.photos.Delete(ctx, key); derr != nil {
		return domain.StorageError{Op: "replace photo", Err: derr}
	}
	if _, perr := s.photos.Put(ctx, key, r, blob.PutOptions{ContentType: contentType}); perr != nil {
		return domain.StorageError{Op: "save photo", Err: perr}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, txErr := tx.UpdateProduct(productID, func(p *domain.Product) error {
			p.Photo = fileName
			return nil
		})
		return txErr
	})
	return err
}

// OpenProductPhoto streams the product's photo. Products without a photo and
// photos whose bytes are gone both report not found.
func (s *Service) OpenProductPhoto(ctx context.Context, productID int) (blob.Info, io.ReadCloser, error) {
	product, ok := s.store.GetProduct(productID)
	if !ok {
		return blob.Info{}, nil, domain.NotFoundError{Entity: domain.EntityProduct, Key: strconv.Itoa(productID)}
	}
	if product.Photo == "" {
		return blob.Info{}, nil, blob.ErrNotFound
	}
	return s.photos.Get(ctx, ProductImageKey(productID, product.Photo))
}
