// Package tenant enumerates the brands served by this deployment and maps
// each of them to its own resources.
package tenant

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ID identifies a brand. The set is closed: values only come from the
// constants below or from Parse. The zero ID names no tenant.
type ID uint8

const (
	none ID = iota
	Academy
	Bootcamp
	Kids

	count
)

var names = [count]string{
	Academy:  "academy",
	Bootcamp: "bootcamp",
	Kids:     "kids",
}

// All returns every tenant in declaration order.
func All() []ID {
	ids := make([]ID, 0, count-1)
	for id := none + 1; id < count; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Parse converts an external key into an ID.
func Parse(key string) (ID, error) {
	for _, id := range All() {
		if names[id] == key {
			return id, nil
		}
	}
	return none, fmt.Errorf("unknown tenant %q", key)
}

// Valid reports whether id is one of the declared tenants.
func (id ID) Valid() bool {
	return id > none && id < count
}

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("tenant(%d)", uint8(id))
	}
	return names[id]
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	v, err := Parse(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id ID) Value() (driver.Value, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("invalid tenant %d", uint8(id))
	}
	return id.String(), nil
}

func (id *ID) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into tenant", src)
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Registry holds exactly one value per tenant.
type Registry[T any] struct {
	items [count]T
}

// NewRegistry calls build once for every tenant. A registry can never be
// missing an entry, so Get does not fail.
func NewRegistry[T any](build func(ID) (T, error)) (*Registry[T], error) {
	var r Registry[T]
	for _, id := range All() {
		v, err := build(id)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", id, err)
		}
		r.items[id] = v
	}
	return &r, nil
}

// Get returns the value bound to id.
func (r *Registry[T]) Get(id ID) T {
	return r.items[id]
}

// Each calls fn for every tenant, stopping at the first error.
func (r *Registry[T]) Each(fn func(ID, T) error) error {
	for _, id := range All() {
		if err := fn(id, r.items[id]); err != nil {
			return err
		}
	}
	return nil
}
