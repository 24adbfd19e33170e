package wire

import (
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// EncodeDelete builds {delete, ordered, writeConcern, deletes: [{q, limit, collation?}]}.
func EncodeDelete(collection string, ordered bool, wc WriteConcern, elems []DeleteElement) document.Document {
	items := make([]document.Value, len(elems))
	for i, el := range elems {
		d := document.Document{
			document.E("q", document.Doc(filterOrEmpty(el.Filter))),
			document.E("limit", document.Int32(int32(el.Limit))),
		}
		if el.Collation != nil {
			d = d.Append("collation", document.Doc(el.Collation.document()))
		}
		items[i] = document.Doc(d)
	}
	return header(CommandDelete, collection, ordered, wc).Append("deletes", document.Array(items...))
}

// EncodeInsert builds {insert, ordered, writeConcern, documents: [...]}.
func EncodeInsert(collection string, ordered bool, wc WriteConcern, docs []document.Document) document.Document {
	items := make([]document.Value, len(docs))
	for i, d := range docs {
		items[i] = document.Doc(d)
	}
	return header(CommandInsert, collection, ordered, wc).Append("documents", document.Array(items...))
}

// EncodeUpdate builds {update, ordered, writeConcern, updates: [{q, u, upsert?, multi?, collation?, arrayFilters?}]}.
func EncodeUpdate(collection string, ordered bool, wc WriteConcern, elems []UpdateElement) document.Document {
	items := make([]document.Value, len(elems))
	for i, el := range elems {
		d := document.Document{
			document.E("q", document.Doc(filterOrEmpty(el.Filter))),
			document.E("u", document.Doc(filterOrEmpty(el.Update))),
		}
		if el.Upsert {
			d = d.Append("upsert", document.Bool(true))
		}
		if el.Multi {
			d = d.Append("multi", document.Bool(true))
		}
		if el.Collation != nil {
			d = d.Append("collation", document.Doc(el.Collation.document()))
		}
		if len(el.ArrayFilters) > 0 {
			filters := make([]document.Value, len(el.ArrayFilters))
			for j, f := range el.ArrayFilters {
				filters[j] = document.Doc(f)
			}
			d = d.Append("arrayFilters", document.Array(filters...))
		}
		items[i] = document.Doc(d)
	}
	return header(CommandUpdate, collection, ordered, wc).Append("updates", document.Array(items...))
}

// Marshal renders a command document to its canonical bytes. Identical
// commands always produce identical bytes.
func Marshal(cmd document.Document) ([]byte, error) {
	return document.Marshal(cmd)
}

func header(name, collection string, ordered bool, wc WriteConcern) document.Document {
	return document.Document{
		document.E(name, document.String(collection)),
		document.E("ordered", document.Bool(ordered)),
		document.E("writeConcern", document.Doc(wc.document())),
	}
}

func filterOrEmpty(d document.Document) document.Document {
	if d == nil {
		return document.Document{}
	}
	return d
}
