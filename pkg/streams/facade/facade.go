// Package facade wraps the streams cache with the same mapping-mode split
// the store façades use (spec.md §4.J): a shared-table view decodes the
// composite hash key off every returned record to recover its owning
// tenant and virtual table, while a table-per-tenant view recovers the
// same pair from the physical table name the stream belongs to.
package facade

import (
	"math/big"
)

// VirtualRecord is one change-feed record attributed to the tenant and
// virtual table it belongs to.
type VirtualRecord struct {
	TenantID       string
	VirtualTable   string
	SequenceNumber *big.Int
	Data           []byte
}

// HashKeyExtractor recovers the physical hash-key string carried by a raw
// record payload. The payload wire format is endpoint-defined and out of
// scope; callers supply the extractor for their underlying store.
type HashKeyExtractor func(data []byte) (string, error)
