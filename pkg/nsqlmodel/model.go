// Package nsqlmodel defines the data model shared by every component of
// the multi-tenant NSQL front-end: virtual/physical table descriptions,
// key schemas, attribute values, and items.
package nsqlmodel

// AttrType is the type of a key or value attribute. Only S, N, and B
// participate in hash/range key rewriting; the others are carried
// through item payloads untouched.
type AttrType string

const (
	AttrTypeString AttrType = "S"
	AttrTypeNumber AttrType = "N"
	AttrTypeBinary AttrType = "B"
	AttrTypeBool   AttrType = "BOOL"
	AttrTypeNull   AttrType = "NULL"
	AttrTypeList   AttrType = "L"
	AttrTypeMap    AttrType = "M"
)

// AttributeValue is a tagged union mirroring the underlying store's
// typed attribute values.
type AttributeValue struct {
	Type AttrType

	S  string
	N  string // canonical numeric lexeme, exact as supplied
	B  []byte
	BO bool
	L  []AttributeValue
	M  map[string]AttributeValue
}

// Item is a single row's attributes, keyed by attribute name.
type Item map[string]AttributeValue

// Clone returns a deep copy of the item so callers can rewrite the copy
// without mutating the original (spec.md §4.G's side-effect discipline).
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of v.
func (v AttributeValue) Clone() AttributeValue {
	cp := v
	if v.B != nil {
		cp.B = append([]byte(nil), v.B...)
	}
	if v.L != nil {
		cp.L = make([]AttributeValue, len(v.L))
		for i, e := range v.L {
			cp.L[i] = e.Clone()
		}
	}
	if v.M != nil {
		cp.M = make(map[string]AttributeValue, len(v.M))
		for k, e := range v.M {
			cp.M[k] = e.Clone()
		}
	}
	return cp
}

// KeyAttribute names a single key attribute and its type.
type KeyAttribute struct {
	Name string
	Type AttrType
}

// KeySchema is a hash key and an optional range key.
type KeySchema struct {
	Hash  KeyAttribute
	Range *KeyAttribute // nil if the table/index has no range key
}

// ProjectionKind controls which attributes a secondary index carries.
type ProjectionKind string

const (
	ProjectionAll       ProjectionKind = "ALL"
	ProjectionKeysOnly  ProjectionKind = "KEYS_ONLY"
	ProjectionInclude   ProjectionKind = "INCLUDE"
)

// IndexDescription describes one secondary index.
type IndexDescription struct {
	Name       string
	Keys       KeySchema
	Projection ProjectionKind
	// NonKeyAttributes is only meaningful when Projection == ProjectionInclude.
	NonKeyAttributes []string
}

// VirtualTableDescription is a table as seen by a tenant. Immutable once
// persisted via the metadata repository.
type VirtualTableDescription struct {
	Name    string
	Keys    KeySchema
	Indexes []IndexDescription
}

// PhysicalTableDescription is a table as it actually exists in the
// underlying store. In shared-table mode its hash key type must be S.
type PhysicalTableDescription struct {
	Name    string
	Keys    KeySchema
	Indexes []IndexDescription
}

// Index looks up a secondary index by name, returning (desc, true) if
// found.
func (d VirtualTableDescription) Index(name string) (IndexDescription, bool) {
	for _, ix := range d.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return IndexDescription{}, false
}

// Index looks up a secondary index by name on the physical description.
func (d PhysicalTableDescription) Index(name string) (IndexDescription, bool) {
	for _, ix := range d.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return IndexDescription{}, false
}

// ExpressionRole identifies which kind of expression is being rewritten,
// per spec.md §4.F.
type ExpressionRole string

const (
	RoleCondition    ExpressionRole = "condition"
	RoleFilter       ExpressionRole = "filter"
	RoleKeyCondition ExpressionRole = "key-condition"
	RoleProjection   ExpressionRole = "projection"
	RoleUpdate       ExpressionRole = "update"
)
