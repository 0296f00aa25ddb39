// Package hash computes deterministic content hashes for genotypes. Equal
// canonical content always yields an equal hash regardless of map iteration
// order or omitted-vs-default fields. Hashes are BLAKE3-256 digests of a
// canonical JSON encoding, rendered as 64 lowercase hex characters.
package hash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"lukechampine.com/blake3"

	"github.com/soulstack/soulmesh/core"
)

// HexLength is the length of the hex form of a content hash.
const HexLength = 64

// Genotype hashes a genotype's logical content. Provenance fields
// (genesis.parent_hash) and anything time-derived do not participate, so an
// evolution that collapses back to existing content dedups against the
// original soul. ModuleSource is hashed verbatim: whitespace-only diffs in
// source are semantic changes.
func Genotype(g core.Genotype) (core.ContentHash, error) {
	canonical := canonicalGenotype(g)
	payload, err := CanonicalJSON(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalizing genotype: %w", err)
	}
	sum := blake3.Sum256(payload)
	return core.ContentHash(hex.EncodeToString(sum[:])), nil
}

// Valid reports whether s has the shape of a content hash.
func Valid(s string) bool {
	if len(s) != HexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// canonicalGenotype reduces a genotype to the map that participates in
// hashing. Empty optional fields are omitted so an absent field and its
// zero value hash identically.
func canonicalGenotype(g core.Genotype) map[string]any {
	genesis := map[string]any{"name": g.Genesis.Name}
	if g.Genesis.Kind != "" {
		genesis["kind"] = g.Genesis.Kind
	}
	if g.Genesis.Version != "" {
		genesis["version"] = g.Genesis.Version
	}
	if g.Genesis.Description != "" {
		genesis["description"] = g.Genesis.Description
	}

	out := map[string]any{"genesis": genesis}
	if len(g.Attributes) > 0 {
		attrs := make(map[string]any, len(g.Attributes))
		for name, spec := range g.Attributes {
			attrs[name] = canonicalAttribute(spec)
		}
		out["attributes"] = attrs
	}
	if g.ModuleSource != "" {
		out["module_source"] = g.ModuleSource
	}
	return out
}

func canonicalAttribute(spec core.AttributeSpec) map[string]any {
	attr := map[string]any{"type": spec.Type}
	if spec.Default != nil {
		attr["default"] = spec.Default
	}
	if spec.Required {
		attr["required"] = true
	}
	if spec.Description != "" {
		attr["description"] = spec.Description
	}
	if len(spec.Constraints) > 0 {
		attr["constraints"] = spec.Constraints
	}
	return attr
}

// CanonicalJSON converts a value to canonical JSON (stable key ordering).
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var obj any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return canonicalMarshal(obj)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return marshalSortedMap(val)
	case []any:
		return marshalArray(val)
	default:
		return json.Marshal(v)
	}
}

func marshalSortedMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		item, err := canonicalMarshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
