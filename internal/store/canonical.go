package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/wudi/contractmap/internal/schema"
)

// Contract is the full endpoint set of one repository at one scanned point
// in time. Immutable once created; any change in the endpoint set yields a
// new Contract version, never a mutation.
type Contract struct {
	Repo        string            `json:"repo"`
	Endpoints   []schema.Endpoint `json:"endpoints"`
	ContentHash string            `json:"content_hash"`
	CapturedAt  time.Time         `json:"captured_at"`
}

// NewContract canonicalizes the endpoint set and stamps it with its content
// hash. The input slice is sorted in place by endpoint identity.
func NewContract(repo string, endpoints []schema.Endpoint) (*Contract, error) {
	schema.SortEndpoints(endpoints)
	hash, err := ContentHash(endpoints)
	if err != nil {
		return nil, err
	}
	return &Contract{
		Repo:        repo,
		Endpoints:   endpoints,
		ContentHash: hash,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// ContentHash computes the deterministic digest over the canonical byte form
// of an endpoint set. Two scans producing the same logical contract always
// hash identically regardless of input field ordering: endpoints are sorted
// by identity, object keys serialize sorted, and required sets are sorted at
// resolution time.
func ContentHash(endpoints []schema.Endpoint) (string, error) {
	sorted := make([]schema.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	schema.SortEndpoints(sorted)

	// encoding/json writes map keys in sorted order, which makes the
	// serialization canonical without a custom encoder.
	data, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Endpoint returns the endpoint with the given identity, if present.
func (c *Contract) Endpoint(key schema.Key) (schema.Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if schema.KeyOf(ep) == key {
			return ep, true
		}
	}
	return schema.Endpoint{}, false
}

// endpointMap indexes a contract's endpoints by identity.
func endpointMap(c *Contract) map[schema.Key]schema.Endpoint {
	m := make(map[schema.Key]schema.Endpoint, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		m[schema.KeyOf(ep)] = ep
	}
	return m
}
