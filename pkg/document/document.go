// Package document implements the ordered document model shared by the
// store, the wire codec and the database adapters, together with the
// filter, sort and update evaluation the in-process database engine needs.
package document

import (
	"strconv"
	"strings"
)

// Field is a single key/value pair of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered list of fields. Key order is preserved through
// encoding, so command documents keep their command name first.
type Document []Field

// E builds a Field.
func E(key string, value Value) Field {
	return Field{Key: key, Value: value}
}

// Lookup returns the value stored under a top-level key.
func (d Document) Lookup(key string) (Value, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// LookupPath resolves a dotted path through nested documents and arrays.
func (d Document) LookupPath(path string) (Value, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := d.Lookup(head)
	if !ok || !nested {
		return v, ok
	}
	return v.lookupPath(rest)
}

func (v Value) lookupPath(path string) (Value, bool) {
	head, rest, nested := strings.Cut(path, ".")
	var next Value
	switch v.kind {
	case KindDocument:
		found, ok := v.doc.Lookup(head)
		if !ok {
			return Value{}, false
		}
		next = found
	case KindArray:
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(v.arr) {
			return Value{}, false
		}
		next = v.arr[idx]
	default:
		return Value{}, false
	}
	if !nested {
		return next, true
	}
	return next.lookupPath(rest)
}

// Append adds a field at the end without checking for duplicates.
func (d Document) Append(key string, value Value) Document {
	return append(d, Field{Key: key, Value: value})
}

// Set replaces the value of an existing key or appends a new field.
func (d Document) Set(key string, value Value) Document {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, Field{Key: key, Value: value})
}

// SetPath sets a dotted path, creating intermediate documents as needed.
func (d Document) SetPath(path string, value Value) Document {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return d.Set(head, value)
	}
	child, _ := d.Lookup(head)
	sub, ok := child.DocumentValue()
	if !ok {
		sub = Document{}
	}
	return d.Set(head, Doc(sub.SetPath(rest, value)))
}

// Delete removes a top-level key if present.
func (d Document) Delete(key string) Document {
	for i := range d {
		if d[i].Key == key {
			return append(d[:i:i], d[i+1:]...)
		}
	}
	return d
}

// DeletePath removes a dotted path if present.
func (d Document) DeletePath(path string) Document {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return d.Delete(head)
	}
	child, ok := d.Lookup(head)
	if !ok {
		return d
	}
	sub, ok := child.DocumentValue()
	if !ok {
		return d
	}
	return d.Set(head, Doc(sub.Clone().DeletePath(rest)))
}

// Keys returns the field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for i, f := range d {
		out[i] = Field{Key: f.Key, Value: f.Value.Clone()}
	}
	return out
}

func (d Document) String() string {
	var sb strings.Builder
	d.render(&sb)
	return sb.String()
}

func (d Document) render(sb *strings.Builder) {
	sb.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Key)
		sb.WriteString(": ")
		f.Value.render(sb)
	}
	sb.WriteByte('}')
}
