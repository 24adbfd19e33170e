package wire

import (
	"testing"
	"time"

	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeleteShape(t *testing.T) {
	cmd := EncodeDelete("fs.chunks", true, Acknowledged, []DeleteElement{
		{Filter: document.Document{document.E("files_id", document.Int64(7))}, Limit: 0},
		{Filter: document.Document{document.E("_id", document.Int64(7))}, Limit: 1, Collation: &Collation{Locale: "en", Strength: 2}},
	})

	assert.Equal(t, []string{"delete", "ordered", "writeConcern", "deletes"}, cmd.Keys())
	assert.Equal(t,
		`{delete: "fs.chunks", ordered: true, writeConcern: {w: 1}, deletes: [`+
			`{q: {files_id: 7}, limit: 0}, `+
			`{q: {_id: 7}, limit: 1, collation: {locale: "en", strength: 2}}]}`,
		cmd.String())
}

func TestEncodeDeleteOmitsAbsentCollation(t *testing.T) {
	cmd := EncodeDelete("fs.files", false, Acknowledged, []DeleteElement{{Filter: nil, Limit: 1}})
	deletes, _ := cmd.Lookup("deletes")
	items, _ := deletes.ArrayValue()
	require.Len(t, items, 1)
	el, _ := items[0].DocumentValue()
	assert.Equal(t, []string{"q", "limit"}, el.Keys())
	q, _ := el.Lookup("q")
	assert.Equal(t, document.KindDocument, q.Kind())
}

func TestEncodeInsertPreservesOrder(t *testing.T) {
	docs := []document.Document{
		{document.E("n", document.Int32(2))},
		{document.E("n", document.Int32(0))},
		{document.E("n", document.Int32(1))},
	}
	cmd := EncodeInsert("fs.chunks", true, WriteConcern{W: 0}, docs)
	assert.Equal(t, `{insert: "fs.chunks", ordered: true, writeConcern: {w: 0}, documents: [{n: 2}, {n: 0}, {n: 1}]}`, cmd.String())
}

func TestEncodeUpdateOptionalFields(t *testing.T) {
	set := document.Document{document.E("$set", document.Doc(document.Document{document.E("metadata", document.Doc(nil))}))}
	cmd := EncodeUpdate("fs.files", true, WriteConcern{WTag: "majority", Journal: true, WTimeout: 2 * time.Second}, []UpdateElement{
		{Filter: document.Document{document.E("_id", document.Int64(1))}, Update: set},
		{
			Filter:       document.Document{},
			Update:       set,
			Upsert:       true,
			Multi:        true,
			ArrayFilters: []document.Document{{document.E("x", document.Int32(1))}},
		},
	})

	assert.Equal(t,
		`{update: "fs.files", ordered: true, writeConcern: {w: "majority", j: true, wtimeout: 2000}, updates: [`+
			`{q: {_id: 1}, u: {$set: {metadata: {}}}}, `+
			`{q: {}, u: {$set: {metadata: {}}}, upsert: true, multi: true, arrayFilters: [{x: 1}]}]}`,
		cmd.String())
}

func TestMarshalIsReproducible(t *testing.T) {
	build := func() document.Document {
		return EncodeDelete("fs.chunks", true, WriteConcern{W: 1, Journal: true}, []DeleteElement{
			{Filter: document.Document{document.E("files_id", document.String("abc"))}},
		})
	}
	a, err := Marshal(build())
	require.NoError(t, err)
	b, err := Marshal(build())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRoundTrip(t *testing.T) {
	wc := WriteConcern{W: 2, Journal: true, WTimeout: 1500 * time.Millisecond}

	del, err := DecodeDelete(EncodeDelete("c", false, wc, []DeleteElement{
		{Filter: document.Document{document.E("a", document.Int32(1))}, Limit: 1, Collation: &Collation{Locale: "fr", CaseLevel: true}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "c", del.Collection)
	assert.False(t, del.Ordered)
	assert.Equal(t, wc, del.WriteConcern)
	require.Len(t, del.Deletes, 1)
	assert.Equal(t, 1, del.Deletes[0].Limit)
	assert.Equal(t, &Collation{Locale: "fr", CaseLevel: true}, del.Deletes[0].Collation)

	ins, err := DecodeInsert(EncodeInsert("c", true, Acknowledged, []document.Document{{document.E("x", document.Null())}}))
	require.NoError(t, err)
	assert.True(t, ins.Ordered)
	require.Len(t, ins.Documents, 1)

	upd, err := DecodeUpdate(EncodeUpdate("c", true, Acknowledged, []UpdateElement{
		{Filter: document.Document{}, Update: document.Document{document.E("y", document.Int32(2))}, Upsert: true},
	}))
	require.NoError(t, err)
	require.Len(t, upd.Updates, 1)
	assert.True(t, upd.Updates[0].Upsert)
	assert.False(t, upd.Updates[0].Multi)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid := EncodeDelete("c", true, Acknowledged, []DeleteElement{{Filter: document.Document{}, Limit: 0}})

	tests := []struct {
		name string
		cmd  document.Document
		fn   func(document.Document) error
	}{
		{"empty", document.Document{}, func(d document.Document) error { _, err := DecodeDelete(d); return err }},
		{"wrong command", valid, func(d document.Document) error { _, err := DecodeInsert(d); return err }},
		{"unknown command", document.Document{document.E("drop", document.String("c"))}, func(d document.Document) error { _, err := DecodeDelete(d); return err }},
		{"missing list", document.Document{document.E("delete", document.String("c"))}, func(d document.Document) error { _, err := DecodeDelete(d); return err }},
		{"negative limit", EncodeDelete("c", true, Acknowledged, []DeleteElement{{Limit: -1}}), func(d document.Document) error { _, err := DecodeDelete(d); return err }},
		{"empty collection", EncodeInsert("", true, Acknowledged, []document.Document{{}}), func(d document.Document) error { _, err := DecodeInsert(d); return err }},
		{"no documents", EncodeInsert("c", true, Acknowledged, nil), func(d document.Document) error { _, err := DecodeInsert(d); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(tt.cmd), ErrMalformedCommand)
		})
	}
}

func TestWriteConcernAcknowledged(t *testing.T) {
	assert.True(t, Acknowledged.IsAcknowledged())
	assert.False(t, WriteConcern{}.IsAcknowledged())
	assert.True(t, WriteConcern{WTag: "majority"}.IsAcknowledged())
}
