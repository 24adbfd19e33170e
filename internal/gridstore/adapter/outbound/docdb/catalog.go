package docdb

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

const (
	collectionsTable = "$collections"
	indexesTable     = "$indexes"
)

// indexSpec is a secondary index as stored in the catalog.
type indexSpec struct {
	Collection string
	Name       string
	Keys       document.Document
	Unique     bool
}

func dataTable(collection string) string { return "d:" + collection }

func uniqueTable(collection, index string) string { return "u:" + collection + "/" + index }

func (s indexSpec) document() document.Document {
	return document.Document{
		document.E("ns", document.String(s.Collection)),
		document.E("name", document.String(s.Name)),
		document.E("key", document.Doc(s.Keys)),
		document.E("unique", document.Bool(s.Unique)),
	}
}

func decodeIndexSpec(raw []byte) (indexSpec, error) {
	d, err := document.Unmarshal(raw)
	if err != nil {
		return indexSpec{}, err
	}
	var spec indexSpec
	ns, _ := d.Lookup("ns")
	spec.Collection, _ = ns.StringValue()
	name, _ := d.Lookup("name")
	spec.Name, _ = name.StringValue()
	keys, _ := d.Lookup("key")
	spec.Keys, _ = keys.DocumentValue()
	unique, _ := d.Lookup("unique")
	spec.Unique, _ = unique.BoolValue()
	if spec.Collection == "" || spec.Name == "" || len(spec.Keys) == 0 {
		return indexSpec{}, fmt.Errorf("catalog entry %s is incomplete", d)
	}
	return spec, nil
}

func (e *Engine) collectionExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := e.kv.Get(ctx, collectionsTable, name)
	return ok, err
}

// registerCollection reports whether the collection was new.
func (e *Engine) registerCollection(ctx context.Context, name string) (bool, error) {
	entry, err := document.Marshal(document.Document{
		document.E("name", document.String(name)),
		document.E("created", document.DateTime(e.now())),
	})
	if err != nil {
		return false, err
	}
	return e.kv.PutIfAbsent(ctx, collectionsTable, name, entry)
}

func (e *Engine) indexes(ctx context.Context, collection string) ([]indexSpec, error) {
	var specs []indexSpec
	prefix := collection + "/"
	err := e.kv.Scan(ctx, indexesTable, func(key string, value []byte) error {
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		spec, err := decodeIndexSpec(value)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	})
	return specs, err
}

func uniqueIndexes(specs []indexSpec) []indexSpec {
	var out []indexSpec
	for _, s := range specs {
		if s.Unique {
			out = append(out, s)
		}
	}
	return out
}

// normalize maps numbers of equal value to one representation so keys
// compare the way documents do.
func normalize(v document.Value) document.Value {
	switch v.Kind() {
	case document.KindInt32, document.KindInt64:
		n, _ := v.Int64Value()
		return document.Int64(n)
	case document.KindDouble:
		f, _ := v.DoubleValue()
		if f == float64(int64(f)) {
			return document.Int64(int64(f))
		}
		return v
	case document.KindDocument:
		d, _ := v.DocumentValue()
		out := make(document.Document, len(d))
		for i, f := range d {
			out[i] = document.E(f.Key, normalize(f.Value))
		}
		return document.Doc(out)
	case document.KindArray:
		arr, _ := v.ArrayValue()
		out := make([]document.Value, len(arr))
		for i, el := range arr {
			out[i] = normalize(el)
		}
		return document.Array(out...)
	default:
		return v
	}
}

func encodeKey(v document.Value) (string, error) {
	raw, err := document.MarshalValue(normalize(v))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func primaryKey(doc document.Document) (string, error) {
	id, ok := doc.Lookup("_id")
	if !ok {
		return "", port.NewCommandError(port.CodeBadValue, "document has no _id")
	}
	return encodeKey(id)
}

// indexKey is the unique-table key of doc under spec. Missing fields
// index as null.
func indexKey(spec indexSpec, doc document.Document) (string, error) {
	values := make([]document.Value, len(spec.Keys))
	for i, k := range spec.Keys {
		v, ok := doc.LookupPath(k.Key)
		if !ok {
			v = document.Null()
		}
		values[i] = v
	}
	return encodeKey(document.Array(values...))
}

func duplicateKey(collection string, spec indexSpec, doc document.Document) *port.CommandError {
	var parts []string
	for _, k := range spec.Keys {
		v, _ := doc.LookupPath(k.Key)
		parts = append(parts, k.Key+": "+v.String())
	}
	return port.NewCommandError(port.CodeDuplicateKey, "E11000 duplicate key error collection: %s index: %s dup key: { %s }",
		collection, spec.Name, strings.Join(parts, ", "))
}
