package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Id allocation for products and batches
// happens inside the same scope as the insert it precedes; there is no way to
// reserve an id outside a transaction.
type Transaction interface {
	Snapshot() TransactionView
	CreateProduct(Product) (Product, error)
	UpdateProduct(id int, mutator func(*Product) error) (Product, error)
	DeleteProduct(id int) error
	CreateBatch(productID int, b Batch) (Batch, error)
	UpdateBatch(id int, mutator func(*Batch) error) (Batch, error)
	DeleteBatch(id int) error
	PutStore(Store) (Store, error)
	DeleteStore(id string) error
	PutCategory(Category) (Category, error)
	DeleteCategory(id string) error
}

// TransactionView provides read-only access to a consistent snapshot of the
// state, both for rules and for plain reads.
type TransactionView interface {
	ListProducts() []Product
	FindProduct(id int) (Product, bool)
	FindBatch(id int) (Batch, bool)
	ListStores() []Store
	FindStore(id string) (Store, bool)
	ListCategories() []Category
	FindCategory(id string) (Category, bool)
}

// RuleView is the read surface rules evaluate against. It is the same
// contract as TransactionView; the alias keeps rule signatures explicit.
type RuleView = TransactionView

// PersistentStore is a minimal abstraction over durable backends. Many
// concurrent readers are permitted; writes are serialized so that only one
// write transaction is ever open.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetProduct(id int) (Product, bool)
	ListProducts() []Product
	GetStore(id string) (Store, bool)
	ListStores() []Store
	ListCategories() []Category
}
