package core

import "time"

// ContentHash is the deterministic hex digest of a genotype's canonical
// content. It is stable across processes and map iteration orders: equal
// canonical content always yields the same hash.
type ContentHash string

// String returns the hex form of the hash.
func (h ContentHash) String() string { return string(h) }

// Soul is the immutable, content-addressed record of a genotype. No field
// changes after creation; "evolving" a soul always produces a new soul plus
// an evolution relationship from the parent hash to the new hash.
type Soul struct {
	Hash      ContentHash `json:"hash"`
	Genotype  Genotype    `json:"genotype"`
	CreatedAt time.Time   `json:"created_at"`
}

// Clone returns a deep copy so callers can hold souls without aliasing the
// store's internal state.
func (s *Soul) Clone() *Soul {
	if s == nil {
		return nil
	}
	return &Soul{
		Hash:      s.Hash,
		Genotype:  s.Genotype.Clone(),
		CreatedAt: s.CreatedAt,
	}
}

// AliasEvent records one binding of an alias to a soul hash.
type AliasEvent struct {
	Hash    ContentHash `json:"hash"`
	BoundAt time.Time   `json:"bound_at"`
}

// AliasBinding is a mutable, human-readable pointer to a soul hash. The
// current hash always resolves to an existing soul; rebinding appends to
// History in commit order and never discards previous entries.
type AliasBinding struct {
	Alias       string       `json:"alias"`
	CurrentHash ContentHash  `json:"current_hash"`
	History     []AliasEvent `json:"history"`
}

// Clone returns a deep copy of the binding.
func (b *AliasBinding) Clone() *AliasBinding {
	if b == nil {
		return nil
	}
	out := &AliasBinding{Alias: b.Alias, CurrentHash: b.CurrentHash}
	out.History = make([]AliasEvent, len(b.History))
	copy(out.History, b.History)
	return out
}
