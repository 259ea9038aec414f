// Package hashx computes the deterministic content digest used to deduplicate
// cache writes. The digest is the only signal that decides whether a journal
// entry is appended, so it must be identical across every ingest path.
package hashx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical serialises v into canonical JSON: object keys in lexicographic
// order, arrays preserved, numbers in shortest round-trip decimal form,
// minimal string escaping. The input is normalised through a JSON round-trip
// first, so structs, maps and already-parsed trees all canonicalise the same.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	// Re-parse into generic maps. Numbers collapse to float64, which
	// re-serialises in shortest form; map keys sort on encode.
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Sum returns the lowercase hex SHA-256 of the canonical form of v.
func Sum(v any) (string, error) {
	canon, err := Canonical(v)
	if err != nil {
		return "", err
	}
	d := sha256.Sum256(canon)
	return hex.EncodeToString(d[:]), nil
}
