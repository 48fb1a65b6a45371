package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StoreRefKind discriminates the ways a product can reference a store.
type StoreRefKind string

// Store reference kinds. Historical data recorded stores as free-text names
// before Store became a first-class entity, so both identity schemes remain
// valid on product records.
const (
	// StoreRefNone marks a product with no store assigned.
	StoreRefNone StoreRefKind = "none"
	// StoreRefByID references a real store record by its UUID.
	StoreRefByID StoreRefKind = "id"
	// StoreRefByName is a legacy reference carrying only the store display name.
	StoreRefByName StoreRefKind = "name"
)

// StoreRef is the tagged union of the two store identity schemes. The zero
// value means "no store assigned".
type StoreRef struct {
	kind  StoreRefKind
	value string
}

// StoreByID builds a UUID reference to a real store record.
func StoreByID(id string) StoreRef { return StoreRef{kind: StoreRefByID, value: id} }

// StoreByName builds a legacy free-text name reference.
func StoreByName(name string) StoreRef { return StoreRef{kind: StoreRefByName, value: name} }

// NoStore returns the absent reference.
func NoStore() StoreRef { return StoreRef{} }

// Kind returns the reference discriminator.
func (r StoreRef) Kind() StoreRefKind {
	if r.kind == "" {
		return StoreRefNone
	}
	return r.kind
}

// IsNone reports whether no store is assigned.
func (r StoreRef) IsNone() bool { return r.Kind() == StoreRefNone }

// Value returns the raw UUID or legacy name, empty for the absent reference.
func (r StoreRef) Value() string { return r.value }

// ID returns the store UUID, empty unless the reference is by id.
func (r StoreRef) ID() string {
	if r.Kind() != StoreRefByID {
		return ""
	}
	return r.value
}

// LegacyName returns the free-text name, empty unless the reference is legacy.
func (r StoreRef) LegacyName() string {
	if r.Kind() != StoreRefByName {
		return ""
	}
	return r.value
}

func (r StoreRef) String() string {
	switch r.Kind() {
	case StoreRefByID:
		return fmt.Sprintf("store-id:%s", r.value)
	case StoreRefByName:
		return fmt.Sprintf("store-name:%s", r.value)
	default:
		return "store:none"
	}
}

// ClassifyStoreValue converts a raw persisted store field into a reference.
// Values that parse as UUIDs are id references, anything else is a legacy
// name, and the empty value means no store.
func ClassifyStoreValue(raw string) StoreRef {
	if raw == "" {
		return NoStore()
	}
	if _, err := uuid.Parse(raw); err == nil {
		return StoreByID(raw)
	}
	return StoreByName(raw)
}

// MarshalJSON persists the reference in the historical single-field shape:
// null when absent, otherwise the raw UUID or name string.
func (r StoreRef) MarshalJSON() ([]byte, error) {
	if r.IsNone() {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// UnmarshalJSON hydrates the union from the single-field shape, classifying
// the raw value by UUID syntax.
func (r *StoreRef) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = NoStore()
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("store reference: %w", err)
	}
	*r = ClassifyStoreValue(raw)
	return nil
}
