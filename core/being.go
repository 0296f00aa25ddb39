package core

import "time"

// Being is a mutable data instance bound to a specific soul version. Data
// keys are always a subset of the bound soul's attribute keys and have been
// validated and coerced before persistence. Two beings with identical data
// remain distinct rows: the ID is store-unique and never derived from
// content.
type Being struct {
	ID        string         `json:"id"`
	SoulHash  ContentHash    `json:"soul_hash"`
	Alias     string         `json:"alias,omitempty"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// Revision supports optimistic concurrency on updates. It is storage
	// bookkeeping, not part of the logical persisted shape.
	Revision int64 `json:"-"`

	persistent bool
}

// Persistent reports whether the being is backed by a storage row. Transient
// beings carry coerced data for in-process computation only.
func (b *Being) Persistent() bool { return b.persistent }

// MarkPersistent flags the being as storage-backed. Called by the being
// store after a successful write.
func (b *Being) MarkPersistent() { b.persistent = true }

// Clone returns a deep copy so callers never alias store-internal data maps.
func (b *Being) Clone() *Being {
	if b == nil {
		return nil
	}
	out := *b
	if b.Data != nil {
		cp := deepCopyValue(b.Data)
		out.Data, _ = cp.(map[string]any)
	}
	return &out
}

// UniqueKeyKind selects the identity rule used by get-or-create.
type UniqueKeyKind int

const (
	// UniqueByAlias matches the being carrying a given alias.
	UniqueByAlias UniqueKeyKind = iota
	// UniqueBySoulSingleton matches the single being bound to a soul hash.
	UniqueBySoulSingleton
)

// UniqueKey identifies an existing being for get-or-create semantics.
type UniqueKey struct {
	Kind  UniqueKeyKind
	Alias string
}

// ByAlias builds a unique key matching the being with the given alias.
func ByAlias(alias string) UniqueKey {
	return UniqueKey{Kind: UniqueByAlias, Alias: alias}
}

// SoulSingleton builds a unique key matching the single being bound to the
// target soul's hash.
func SoulSingleton() UniqueKey {
	return UniqueKey{Kind: UniqueBySoulSingleton}
}
