package document

import (
	"errors"
	"fmt"
	"strings"
)

var ErrImmutableID = errors.New("_id is immutable")

// IsOperatorUpdate reports whether update uses $-operators rather than
// being a replacement document.
func IsOperatorUpdate(update Document) bool {
	return len(update) > 0 && strings.HasPrefix(update[0].Key, "$")
}

// ApplyUpdate returns a new document with update applied to doc.
// Replacement documents keep the original _id. Operator updates support
// $set and $unset with dotted paths.
func ApplyUpdate(doc, update Document) (Document, error) {
	if !IsOperatorUpdate(update) {
		for _, f := range update {
			if strings.HasPrefix(f.Key, "$") {
				return nil, fmt.Errorf("replacement mixes operator %s", f.Key)
			}
		}
		out := Document{}
		id, hasID := doc.Lookup("_id")
		if hasID {
			out = out.Append("_id", id)
		}
		for _, f := range update.Clone() {
			if f.Key == "_id" {
				if hasID && !Equal(f.Value, id) {
					return nil, ErrImmutableID
				}
				if !hasID {
					out = out.Append("_id", f.Value)
				}
				continue
			}
			out = out.Append(f.Key, f.Value)
		}
		return out, nil
	}

	out := doc.Clone()
	for _, op := range update {
		fields, ok := op.Value.DocumentValue()
		if !ok {
			return nil, fmt.Errorf("%s requires a document", op.Key)
		}
		for _, f := range fields {
			if f.Key == "_id" || strings.HasPrefix(f.Key, "_id.") {
				if cur, ok := out.LookupPath(f.Key); op.Key == "$unset" || !ok || !Equal(cur, f.Value) {
					return nil, ErrImmutableID
				}
			}
			switch op.Key {
			case "$set":
				out = out.SetPath(f.Key, f.Value.Clone())
			case "$unset":
				out = out.DeletePath(f.Key)
			default:
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op.Key)
			}
		}
	}
	return out, nil
}

// SeedFromFilter builds the base document for an upsert from the equality
// clauses of filter.
func SeedFromFilter(filter Document) Document {
	seed := Document{}
	for _, f := range filter {
		if strings.HasPrefix(f.Key, "$") {
			continue
		}
		if ops, ok := f.Value.DocumentValue(); ok && isOperatorDocument(ops) {
			if eq, ok := ops.Lookup("$eq"); ok {
				seed = seed.SetPath(f.Key, eq.Clone())
			}
			continue
		}
		seed = seed.SetPath(f.Key, f.Value.Clone())
	}
	return seed
}
