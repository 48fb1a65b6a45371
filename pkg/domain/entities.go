// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by expirycore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProduct identifies a tracked inventory product record.
	EntityProduct EntityType = "product"
	// EntityBatch identifies a dated batch ("lote") nested under a product.
	EntityBatch EntityType = "batch"
	// EntityStore identifies a physical or logical store record.
	EntityStore EntityType = "store"
	// EntityCategory identifies a product category record.
	EntityCategory EntityType = "category"
)

// BatchStatus distinguishes resolved batches from actionable ones.
type BatchStatus string

// Canonical batch statuses. Any value outside this set is bucketed as
// pending during partitioning, never dropped.
const (
	// BatchStatusPending marks a batch that still requires attention.
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusTreated marks a batch already used, discarded or otherwise resolved.
	BatchStatusTreated BatchStatus = "treated"
)

// IsTreated reports whether the status is the treated terminal state.
// Unknown or empty statuses count as pending.
func (s BatchStatus) IsTreated() bool { return s == BatchStatusTreated }

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Product represents a tracked inventory item, optionally barcoded and
// optionally scoped to a store. Its batches are owned children whose
// lifetime is bound to the product record.
type Product struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Code       string    `json:"code,omitempty"`
	Photo      string    `json:"photo,omitempty"`
	Categories []string  `json:"categories"`
	Store      StoreRef  `json:"store"`
	Batches    []Batch   `json:"lotes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Batch represents a dated quantity of a product with its own expiration
// date and treatment status. Batch ids are allocated from a global counter,
// not per product.
type Batch struct {
	ID        int         `json:"id"`
	ProductID int         `json:"product_id"`
	Label     string      `json:"lote"`
	Amount    int         `json:"amount"`
	Price     *float64    `json:"price,omitempty"`
	ExpiresAt time.Time   `json:"exp_date"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TotalValue returns amount multiplied by unit price. The boolean is false
// when either side is missing or not positive, so callers can distinguish
// "no price data" from a genuinely free item.
func (b Batch) TotalValue() (float64, bool) {
	if b.Price == nil || *b.Price <= 0 || b.Amount <= 0 {
		return 0, false
	}
	return float64(b.Amount) * *b.Price, true
}

// Store represents a location a product can be scoped to. A real store
// carries a UUID id; the empty id is the sentinel for a legacy store that
// exists only as a name reference on products.
type Store struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsLegacy reports whether the store is a not-yet-promoted legacy name reference.
func (s Store) IsLegacy() bool { return s.ID == "" }

// Category is an independent label referenced by products by id. Deleting a
// category detaches the reference without touching the product otherwise.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EqualFoldName reports case-insensitive name equality, the comparison used
// for store uniqueness.
func (s Store) EqualFoldName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(name))
}

// EqualFoldName reports case-insensitive name equality, the comparison used
// for category uniqueness.
func (c Category) EqualFoldName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(name))
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
