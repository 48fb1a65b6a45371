// Package memory provides the in-memory implementation of the core
// persistence store. It is the transactional engine shared by the durable
// backends and is used directly for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"expirycore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Product aliases domain.Product for in-memory persistence operations.
	Product = domain.Product
	// Batch aliases domain.Batch.
	Batch = domain.Batch
	// Category aliases domain.Category.
	Category = domain.Category
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	products   map[int]Product
	stores     map[string]domain.Store
	categories map[string]Category
}

// Snapshot captures a point-in-time clone of the store state. Batches travel
// nested inside their owning product, matching the persisted object shape.
type Snapshot struct {
	Products   map[int]Product         `json:"products"`
	Stores     map[string]domain.Store `json:"stores"`
	Categories map[string]Category     `json:"categories"`
}

func newMemoryState() memoryState {
	return memoryState{
		products:   make(map[int]Product),
		stores:     make(map[string]domain.Store),
		categories: make(map[string]Category),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.products {
		cloned.products[k] = cloneProduct(v)
	}
	for k, v := range s.stores {
		cloned.stores[k] = v
	}
	for k, v := range s.categories {
		cloned.categories[k] = v
	}
	return cloned
}

func cloneProduct(p Product) Product {
	cp := p
	if p.Categories != nil {
		cp.Categories = append([]string(nil), p.Categories...)
	}
	cp.Batches = make([]Batch, 0, len(p.Batches))
	for _, b := range p.Batches {
		cp.Batches = append(cp.Batches, cloneBatch(b))
	}
	return cp
}

func cloneBatch(b Batch) Batch {
	cp := b
	if b.Price != nil {
		price := *b.Price
		cp.Price = &price
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
// Writes are serialized behind the mutex so only one write transaction is
// ever open; readers operate on cloned snapshots.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// transaction is a mutation set applied to a cloned copy of the store state.
type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

type view struct {
	state *memoryState
}

// Snapshot exposes the transactional state as a read-only view.
func (tx *transaction) Snapshot() TransactionView {
	return view{state: &tx.state}
}

func (v view) ListProducts() []Product {
	out := make([]Product, 0, len(v.state.products))
	for _, p := range v.state.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v view) FindProduct(id int) (Product, bool) {
	p, ok := v.state.products[id]
	if !ok {
		return Product{}, false
	}
	return cloneProduct(p), true
}

func (v view) FindBatch(id int) (Batch, bool) {
	for _, p := range v.state.products {
		for _, b := range p.Batches {
			if b.ID == id {
				return cloneBatch(b), true
			}
		}
	}
	return Batch{}, false
}

func (v view) ListStores() []domain.Store {
	out := make([]domain.Store, 0, len(v.state.stores))
	for _, s := range v.state.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (v view) FindStore(id string) (domain.Store, bool) {
	s, ok := v.state.stores[id]
	return s, ok
}

func (v view) ListCategories() []Category {
	out := make([]Category, 0, len(v.state.categories))
	for _, c := range v.state.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (v view) FindCategory(id string) (Category, bool) {
	c, ok := v.state.categories[id]
	return c, ok
}

// nextProductID derives the next product primary key by scanning existing
// records (max+1). Safe only because it runs inside the open transaction
// that also performs the insert.
func (tx *transaction) nextProductID() int {
	max := 0
	for id := range tx.state.products {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// nextBatchID derives the next batch id from a counter global across all
// products, not scoped per product.
func (tx *transaction) nextBatchID() int {
	max := 0
	for _, p := range tx.state.products {
		for _, b := range p.Batches {
			if b.ID > max {
				max = b.ID
			}
		}
	}
	return max + 1
}

// CreateProduct stores a new product, allocating its id when unset. Nested
// batches are normalized so their back-reference and ids are consistent.
func (tx *transaction) CreateProduct(p Product) (Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Product{}, domain.ValidationError{Entity: domain.EntityProduct, Field: "name", Reason: "must not be empty"}
	}
	if p.ID == 0 {
		p.ID = tx.nextProductID()
	} else if _, exists := tx.state.products[p.ID]; exists {
		return Product{}, fmt.Errorf("product %d already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	batches := p.Batches
	p.Batches = nil
	stored := cloneProduct(p)
	tx.state.products[p.ID] = stored
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionCreate, After: cloneProduct(stored)})
	for _, b := range batches {
		if _, err := tx.CreateBatch(p.ID, b); err != nil {
			return Product{}, err
		}
	}
	return cloneProduct(tx.state.products[p.ID]), nil
}

// UpdateProduct mutates a product using the provided mutator function. The
// id and batch back-references are restored after mutation.
func (tx *transaction) UpdateProduct(id int, mutator func(*Product) error) (Product, error) {
	current, ok := tx.state.products[id]
	if !ok {
		return Product{}, domain.NotFoundError{Entity: domain.EntityProduct, Key: fmt.Sprintf("%d", id)}
	}
	before := cloneProduct(current)
	working := cloneProduct(current)
	if err := mutator(&working); err != nil {
		return Product{}, err
	}
	if strings.TrimSpace(working.Name) == "" {
		return Product{}, domain.ValidationError{Entity: domain.EntityProduct, Field: "name", Reason: "must not be empty"}
	}
	working.ID = id
	for i := range working.Batches {
		working.Batches[i].ProductID = id
	}
	working.UpdatedAt = tx.now
	tx.state.products[id] = cloneProduct(working)
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionUpdate, Before: before, After: cloneProduct(working)})
	return cloneProduct(working), nil
}

// DeleteProduct removes a product together with its owned batches.
func (tx *transaction) DeleteProduct(id int) error {
	current, ok := tx.state.products[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProduct, Key: fmt.Sprintf("%d", id)}
	}
	for _, b := range current.Batches {
		tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionDelete, Before: cloneBatch(b)})
	}
	delete(tx.state.products, id)
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionDelete, Before: cloneProduct(current)})
	return nil
}

// CreateBatch allocates a batch id and appends the batch to its owning
// product within the same transactional scope.
func (tx *transaction) CreateBatch(productID int, b Batch) (Batch, error) {
	owner, ok := tx.state.products[productID]
	if !ok {
		return Batch{}, domain.NotFoundError{Entity: domain.EntityProduct, Key: fmt.Sprintf("%d", productID)}
	}
	if err := validateBatch(b); err != nil {
		return Batch{}, err
	}
	if b.ID == 0 {
		b.ID = tx.nextBatchID()
	} else if _, exists := tx.Snapshot().FindBatch(b.ID); exists {
		return Batch{}, fmt.Errorf("batch %d already exists", b.ID)
	}
	b.ProductID = productID
	if b.Status == "" {
		b.Status = domain.BatchStatusPending
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	owner.Batches = append(owner.Batches, cloneBatch(b))
	tx.state.products[productID] = owner
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionCreate, After: cloneBatch(b)})
	return cloneBatch(b), nil
}

// UpdateBatch mutates a batch in place inside its owning product. The batch
// id and ownership cannot be changed through the mutator.
func (tx *transaction) UpdateBatch(id int, mutator func(*Batch) error) (Batch, error) {
	for pid, p := range tx.state.products {
		for i, b := range p.Batches {
			if b.ID != id {
				continue
			}
			before := cloneBatch(b)
			working := cloneBatch(b)
			if err := mutator(&working); err != nil {
				return Batch{}, err
			}
			if err := validateBatch(working); err != nil {
				return Batch{}, err
			}
			working.ID = id
			working.ProductID = pid
			working.UpdatedAt = tx.now
			p.Batches[i] = cloneBatch(working)
			tx.state.products[pid] = p
			tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionUpdate, Before: before, After: cloneBatch(working)})
			return cloneBatch(working), nil
		}
	}
	return Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, Key: fmt.Sprintf("%d", id)}
}

// DeleteBatch removes a batch from its owning product.
func (tx *transaction) DeleteBatch(id int) error {
	for pid, p := range tx.state.products {
		for i, b := range p.Batches {
			if b.ID != id {
				continue
			}
			p.Batches = append(p.Batches[:i], p.Batches[i+1:]...)
			tx.state.products[pid] = p
			tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionDelete, Before: cloneBatch(b)})
			return nil
		}
	}
	return domain.NotFoundError{Entity: domain.EntityBatch, Key: fmt.Sprintf("%d", id)}
}

func validateBatch(b Batch) error {
	if b.Amount < 0 {
		return domain.ValidationError{Entity: domain.EntityBatch, Field: "amount", Reason: "must not be negative"}
	}
	if b.Price != nil && *b.Price < 0 {
		return domain.ValidationError{Entity: domain.EntityBatch, Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// PutStore upserts a store record keyed by its id.
func (tx *transaction) PutStore(s domain.Store) (domain.Store, error) {
	if s.ID == "" {
		return domain.Store{}, domain.ValidationError{Entity: domain.EntityStore, Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(s.Name) == "" {
		return domain.Store{}, domain.ValidationError{Entity: domain.EntityStore, Field: "name", Reason: "must not be empty"}
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.stores[s.ID]; ok {
		action = domain.ActionUpdate
		before = existing
	}
	tx.state.stores[s.ID] = s
	tx.recordChange(Change{Entity: domain.EntityStore, Action: action, Before: before, After: s})
	return s, nil
}

// DeleteStore removes a store record. Product references are left intact;
// they fall back to legacy-name behavior at resolution time.
func (tx *transaction) DeleteStore(id string) error {
	current, ok := tx.state.stores[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityStore, Key: id}
	}
	delete(tx.state.stores, id)
	tx.recordChange(Change{Entity: domain.EntityStore, Action: domain.ActionDelete, Before: current})
	return nil
}

// PutCategory upserts a category record keyed by its id.
func (tx *transaction) PutCategory(c Category) (Category, error) {
	if c.ID == "" {
		return Category{}, domain.ValidationError{Entity: domain.EntityCategory, Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(c.Name) == "" {
		return Category{}, domain.ValidationError{Entity: domain.EntityCategory, Field: "name", Reason: "must not be empty"}
	}
	action := domain.ActionCreate
	var before any
	if existing, ok := tx.state.categories[c.ID]; ok {
		action = domain.ActionUpdate
		before = existing
	}
	tx.state.categories[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: action, Before: before, After: c})
	return c, nil
}

// DeleteCategory removes a category and detaches it from every product that
// references it. Detaching only rewrites the category list; the product
// record is otherwise untouched.
func (tx *transaction) DeleteCategory(id string) error {
	current, ok := tx.state.categories[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityCategory, Key: id}
	}
	delete(tx.state.categories, id)
	for pid, p := range tx.state.products {
		kept := p.Categories[:0]
		detached := false
		for _, cid := range p.Categories {
			if cid == id {
				detached = true
				continue
			}
			kept = append(kept, cid)
		}
		if detached {
			p.Categories = kept
			tx.state.products[pid] = p
		}
	}
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ActionDelete, Before: current})
	return nil
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The mutated copy replaces the committed state only when fn and the
// rules engine both succeed; any error discards every mutation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

// GetProduct retrieves a product by id from committed state.
func (s *Store) GetProduct(id int) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[id]
	if !ok {
		return Product{}, false
	}
	return cloneProduct(p), true
}

// ListProducts returns all products from committed state ordered by id.
func (s *Store) ListProducts() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStore retrieves a store record by id.
func (s *Store) GetStore(id string) (domain.Store, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.stores[id]
	return st, ok
}

// ListStores returns all real store records ordered by name.
func (s *Store) ListStores() []domain.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Store, 0, len(s.state.stores))
	for _, st := range s.state.stores {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Category, 0, len(s.state.categories))
	for _, c := range s.state.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExportState returns a deep snapshot of committed state for durable backends.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Products:   make(map[int]Product, len(s.state.products)),
		Stores:     make(map[string]domain.Store, len(s.state.stores)),
		Categories: make(map[string]Category, len(s.state.categories)),
	}
	for k, v := range s.state.products {
		snap.Products[k] = cloneProduct(v)
	}
	for k, v := range s.state.stores {
		snap.Stores[k] = v
	}
	for k, v := range s.state.categories {
		snap.Categories[k] = v
	}
	return snap
}

// ImportState replaces committed state with the provided snapshot. Used by
// durable backends when hydrating at startup.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snap.Products {
		state.products[k] = cloneProduct(v)
	}
	for k, v := range snap.Stores {
		state.stores[k] = v
	}
	for k, v := range snap.Categories {
		state.categories[k] = v
	}
	s.state = state
}
