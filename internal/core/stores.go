package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"expirycore/pkg/domain"
)

// StoreEntry is one row of the unified store listing: registered stores carry
// their identifier, legacy names appear with an empty ID until promoted.
type StoreEntry struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Legacy reports whether the entry is a bare name without a registered store.
func (e StoreEntry) Legacy() bool { return e.ID == "" }

// resolveStoreIdentity maps a store reference to a comparable scope key.
// References by id collapse to the id; references by name collapse to the
// matching registered store's id when one exists, otherwise to the folded
// name. Absent references map to the empty scope.
func resolveStoreIdentity(ref domain.StoreRef, stores []domain.Store) string {
	switch ref.Kind() {
	case domain.StoreRefByID:
		return ref.ID()
	case domain.StoreRefByName:
		name := ref.LegacyName()
		for _, st := range stores {
			if st.EqualFoldName(name) {
				return st.ID
			}
		}
		return "name:" + strings.ToLower(name)
	default:
		return ""
	}
}

// CreateStore registers a new store with a generated identifier. The name
// must be unique, case-insensitively, against both registered stores and
// legacy names still referenced by products.
func (s *Service) CreateStore(ctx context.Context, name string) (st domain.Store, err error) {
	defer func(start time.Time) { s.observe("create_store", start, err) }(s.clock.Now())
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Store{}, domain.ValidationError{Entity: domain.EntityStore, Field: "name", Reason: "name is required"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, entry := range storeEntries(tx.Snapshot()) {
			if strings.EqualFold(entry.Name, name) {
				return domain.DuplicateError{Entity: domain.EntityStore, Key: name}
			}
		}
		st, err = tx.PutStore(domain.Store{ID: uuid.NewString(), Name: name})
		return err
	})
	if err != nil {
		return domain.Store{}, err
	}
	return st, nil
}

// UpdateStore renames a registered store.
func (s *Service) UpdateStore(ctx context.Context, store domain.Store) (err error) {
	defer func(start time.Time) { s.observe("update_store", start, err) }(s.clock.Now())
	if store.ID == "" {
		return domain.ValidationError{Entity: domain.EntityStore, Field: "id", Reason: "id is required"}
	}
	store.Name = strings.TrimSpace(store.Name)
	if store.Name == "" {
		return domain.ValidationError{Entity: domain.EntityStore, Field: "name", Reason: "name is required"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.Snapshot().FindStore(store.ID); !ok {
			return domain.NotFoundError{Entity: domain.EntityStore, Key: store.ID}
		}
		// Renaming to a legacy name would absorb that group's products
		// through name resolution, so legacy names collide too.
		for _, entry := range storeEntries(tx.Snapshot()) {
			if entry.ID == store.ID {
				continue
			}
			if strings.EqualFold(entry.Name, store.Name) {
				return domain.DuplicateError{Entity: domain.EntityStore, Key: store.Name}
			}
		}
		_, err := tx.PutStore(store)
		return err
	})
	return err
}

// DeleteStore removes a registered store. Products referencing it keep their
// reference; the listing then surfaces nothing for it until re-registered.
func (s *Service) DeleteStore(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("delete_store", start, err) }(s.clock.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteStore(id)
	})
	return err
}

// GetStore looks up a registered store by id.
func (s *Service) GetStore(id string) (domain.Store, bool) {
	return s.store.GetStore(id)
}

// GetAllStores returns every registered store plus every legacy name still
// referenced by a product, deduplicated case-insensitively with registered
// stores taking precedence.
func (s *Service) GetAllStores(ctx context.Context) (entries []StoreEntry, err error) {
	defer func(start time.Time) { s.observe("get_all_stores", start, err) }(s.clock.Now())
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		entries = storeEntries(view)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// storeEntries builds the unified listing from a snapshot: registered stores
// first, then legacy names not shadowed by a registered store.
func storeEntries(view domain.TransactionView) []StoreEntry {
	var entries []StoreEntry
	taken := make(map[string]struct{})
	for _, st := range view.ListStores() {
		entries = append(entries, StoreEntry{ID: st.ID, Name: st.Name})
		taken[strings.ToLower(st.Name)] = struct{}{}
	}
	var legacy []string
	for _, product := range view.ListProducts() {
		if product.Store.Kind() != domain.StoreRefByName {
			continue
		}
		name := product.Store.LegacyName()
		if _, ok := taken[strings.ToLower(name)]; ok {
			continue
		}
		taken[strings.ToLower(name)] = struct{}{}
		legacy = append(legacy, name)
	}
	sort.Strings(legacy)
	for _, name := range legacy {
		entries = append(entries, StoreEntry{Name: name})
	}
	return entries
}

// PromoteLegacyStore registers a legacy name as a real store and rewrites
// every product referencing that name to reference the new store by id.
// An empty newName keeps the legacy name.
func (s *Service) PromoteLegacyStore(ctx context.Context, legacyName, newName string) (st domain.Store, err error) {
	defer func(start time.Time) { s.observe("promote_legacy_store", start, err) }(s.clock.Now())
	legacyName = strings.TrimSpace(legacyName)
	if legacyName == "" {
		return domain.Store{}, domain.ValidationError{Entity: domain.EntityStore, Field: "name", Reason: "legacy name is required"}
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		name = legacyName
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		// Collisions are checked against the union of registered stores
		// and legacy names, skipping only the name being promoted.
		for _, entry := range storeEntries(tx.Snapshot()) {
			if entry.Legacy() && strings.EqualFold(entry.Name, legacyName) {
				continue
			}
			if strings.EqualFold(entry.Name, legacyName) || strings.EqualFold(entry.Name, name) {
				return domain.DuplicateError{Entity: domain.EntityStore, Key: entry.Name}
			}
		}
		var perr error
		st, perr = tx.PutStore(domain.Store{ID: uuid.NewString(), Name: name})
		if perr != nil {
			return perr
		}
		for _, product := range tx.Snapshot().ListProducts() {
			if product.Store.Kind() != domain.StoreRefByName || !strings.EqualFold(product.Store.LegacyName(), legacyName) {
				continue
			}
			if _, err := tx.UpdateProduct(product.ID, func(p *domain.Product) error {
				p.Store = domain.StoreByID(st.ID)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Store{}, err
	}
	return st, nil
}

// ProductsByStore returns the products belonging to the referenced store.
// An absent reference selects products with no store. A reference by id also
// matches legacy products whose stored name equals the registered store's
// name. A reference by name matches legacy products with that name and, when
// a registered store carries the name, products referencing it by id.
func (s *Service) ProductsByStore(ctx context.Context, ref domain.StoreRef) (products []domain.Product, err error) {
	defer func(start time.Time) { s.observe("products_by_store", start, err) }(s.clock.Now())
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		stores := view.ListStores()
		identity := resolveStoreIdentity(ref, stores)
		for _, product := range view.ListProducts() {
			if resolveStoreIdentity(product.Store, stores) == identity {
				products = append(products, product)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}
