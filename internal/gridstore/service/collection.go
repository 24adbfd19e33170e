package service

import (
	"context"
	"fmt"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
)

// collection binds a collection name to the database and turns typed
// write calls into wire commands.
type collection struct {
	db       port.Database
	name     string
	readPref port.ReadPreference
}

func newCollection(db port.Database, name string, readPref port.ReadPreference) collection {
	return collection{db: db, name: name, readPref: readPref}
}

func (c collection) insert(ctx context.Context, docs []document.Document, ordered bool, wc wire.WriteConcern) (port.WriteResult, error) {
	return c.run(ctx, wire.CommandInsert, wire.EncodeInsert(c.name, ordered, wc, docs))
}

func (c collection) delete(ctx context.Context, elems []wire.DeleteElement, ordered bool, wc wire.WriteConcern) (port.WriteResult, error) {
	return c.run(ctx, wire.CommandDelete, wire.EncodeDelete(c.name, ordered, wc, elems))
}

func (c collection) update(ctx context.Context, elems []wire.UpdateElement, ordered bool, wc wire.WriteConcern) (port.WriteResult, error) {
	return c.run(ctx, wire.CommandUpdate, wire.EncodeUpdate(c.name, ordered, wc, elems))
}

func (c collection) find(ctx context.Context, filter, sort document.Document, limit int) (port.Cursor, error) {
	cur, err := c.db.Query(ctx, c.name, filter, port.QueryOptions{
		Sort:           sort,
		Limit:          limit,
		ReadPreference: c.readPref,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	return cur, nil
}

func (c collection) run(ctx context.Context, op string, cmd document.Document) (port.WriteResult, error) {
	res, err := c.db.RunWrite(ctx, cmd)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", op, c.name, err)
	}
	if err := res.FirstError(); err != nil {
		return res, fmt.Errorf("%s %s: %w", op, c.name, err)
	}
	return res, nil
}
