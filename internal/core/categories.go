package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"expirycore/pkg/domain"
)

// CreateCategory registers a category with a generated identifier. Names are
// unique case-insensitively.
func (s *Service) CreateCategory(ctx context.Context, name string) (cat domain.Category, err error) {
	defer func(start time.Time) { s.observe("create_category", start, err) }(s.clock.Now())
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, domain.ValidationError{Entity: domain.EntityCategory, Field: "name", Reason: "name is required"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, other := range tx.Snapshot().ListCategories() {
			if other.EqualFoldName(name) {
				return domain.DuplicateError{Entity: domain.EntityCategory, Key: name}
			}
		}
		cat, err = tx.PutCategory(domain.Category{ID: uuid.NewString(), Name: name})
		return err
	})
	if err != nil {
		return domain.Category{}, err
	}
	return cat, nil
}

// UpdateCategory renames a category.
func (s *Service) UpdateCategory(ctx context.Context, cat domain.Category) (err error) {
	defer func(start time.Time) { s.observe("update_category", start, err) }(s.clock.Now())
	if cat.ID == "" {
		return domain.ValidationError{Entity: domain.EntityCategory, Field: "id", Reason: "id is required"}
	}
	cat.Name = strings.TrimSpace(cat.Name)
	if cat.Name == "" {
		return domain.ValidationError{Entity: domain.EntityCategory, Field: "name", Reason: "name is required"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.Snapshot().FindCategory(cat.ID); !ok {
			return domain.NotFoundError{Entity: domain.EntityCategory, Key: cat.ID}
		}
		for _, other := range tx.Snapshot().ListCategories() {
			if other.ID != cat.ID && other.EqualFoldName(cat.Name) {
				return domain.DuplicateError{Entity: domain.EntityCategory, Key: cat.Name}
			}
		}
		_, err := tx.PutCategory(cat)
		return err
	})
	return err
}

// DeleteCategory removes a category and detaches it from every product.
func (s *Service) DeleteCategory(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_category", start, err) }(s.clock.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteCategory(id)
	})
	return err
}

// ListCategories returns every category ordered by name.
func (s *Service) ListCategories(ctx context.Context) []domain.Category {
	return s.store.ListCategories()
}

// ProductsByCategory returns the products assigned to the category id.
func (s *Service) ProductsByCategory(ctx context.Context, id string) (products []domain.Product, err error) {
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		for _, product := range view.ListProducts() {
			for _, assigned := range product.Categories {
				if assigned == id {
					products = append(products, product)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
