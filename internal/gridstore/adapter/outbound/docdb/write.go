package docdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/wire"
	"github.com/google/uuid"
)

type claim struct {
	table string
	key   string
}

func (e *Engine) insert(ctx context.Context, cmd wire.InsertCommand) (port.WriteResult, error) {
	var res port.WriteResult
	if _, err := e.registerCollection(ctx, cmd.Collection); err != nil {
		return res, fmt.Errorf("create collection %s: %w", cmd.Collection, err)
	}
	uniques, err := e.uniqueIndexes(ctx, cmd.Collection)
	if err != nil {
		return res, err
	}

	for i, doc := range cmd.Documents {
		if _, err := e.insertOne(ctx, cmd.Collection, uniques, doc); err != nil {
			if err := addWriteError(&res, i, err); err != nil {
				return port.WriteResult{}, err
			}
			if cmd.Ordered {
				break
			}
			continue
		}
		res.N++
	}
	return acknowledge(res, cmd.WriteConcern), nil
}

func (e *Engine) delete(ctx context.Context, cmd wire.DeleteCommand) (port.WriteResult, error) {
	var res port.WriteResult
	uniques, err := e.uniqueIndexes(ctx, cmd.Collection)
	if err != nil {
		return res, err
	}

	for i, el := range cmd.Deletes {
		matches, err := e.matching(ctx, cmd.Collection, el.Filter, el.Limit)
		if err != nil {
			if err := addWriteError(&res, i, err); err != nil {
				return port.WriteResult{}, err
			}
			if cmd.Ordered {
				break
			}
			continue
		}
		for _, m := range matches {
			deleted, err := e.kv.Delete(ctx, dataTable(cmd.Collection), m.pk)
			if err != nil {
				return port.WriteResult{}, fmt.Errorf("delete %s: %w", cmd.Collection, err)
			}
			if !deleted {
				continue
			}
			for _, spec := range uniques {
				key, err := indexKey(spec, m.doc)
				if err != nil {
					return port.WriteResult{}, err
				}
				if _, err := e.kv.Delete(ctx, uniqueTable(cmd.Collection, spec.Name), key); err != nil {
					return port.WriteResult{}, fmt.Errorf("delete %s index %s: %w", cmd.Collection, spec.Name, err)
				}
			}
			res.N++
		}
	}
	return acknowledge(res, cmd.WriteConcern), nil
}

func (e *Engine) update(ctx context.Context, cmd wire.UpdateCommand) (port.WriteResult, error) {
	var res port.WriteResult
	uniques, err := e.uniqueIndexes(ctx, cmd.Collection)
	if err != nil {
		return res, err
	}

	for i, el := range cmd.Updates {
		err := e.updateOne(ctx, cmd.Collection, uniques, el, &res)
		if err == nil {
			continue
		}
		if err := addWriteError(&res, i, err); err != nil {
			return port.WriteResult{}, err
		}
		if cmd.Ordered {
			break
		}
	}
	return acknowledge(res, cmd.WriteConcern), nil
}

func (e *Engine) updateOne(ctx context.Context, collection string, uniques []indexSpec, el wire.UpdateElement, res *port.WriteResult) error {
	if len(el.ArrayFilters) > 0 {
		return port.NewCommandError(port.CodeBadValue, "arrayFilters are not supported")
	}
	isOperator := document.IsOperatorUpdate(el.Update)
	if el.Multi && !isOperator {
		return port.NewCommandError(port.CodeBadValue, "multi update requires update operators")
	}

	limit := 1
	if el.Multi {
		limit = 0
	}
	matches, err := e.matching(ctx, collection, el.Filter, limit)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		if !el.Upsert {
			return nil
		}
		doc, err := document.ApplyUpdate(document.SeedFromFilter(el.Filter), el.Update)
		if err != nil {
			return updateError(err)
		}
		if _, err := e.registerCollection(ctx, collection); err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
		id, err := e.insertOne(ctx, collection, uniques, doc)
		if err != nil {
			return err
		}
		res.N++
		res.Upserted = append(res.Upserted, id)
		return nil
	}

	for _, m := range matches {
		next, err := document.ApplyUpdate(m.doc, el.Update)
		if err != nil {
			return updateError(err)
		}
		res.N++
		if document.Equal(document.Doc(m.doc), document.Doc(next)) {
			continue
		}
		if err := e.replace(ctx, collection, uniques, m, next); err != nil {
			return err
		}
		res.Modified++
	}
	return nil
}

// insertOne stores doc, assigning an _id when it has none, and returns
// the _id.
func (e *Engine) insertOne(ctx context.Context, collection string, uniques []indexSpec, doc document.Document) (document.Value, error) {
	id, ok := doc.Lookup("_id")
	if !ok {
		id = document.String(uuid.NewString())
		doc = append(document.Document{document.E("_id", id)}, doc...)
	}
	pk, err := primaryKey(doc)
	if err != nil {
		return id, err
	}
	raw, err := document.Marshal(doc)
	if err != nil {
		return id, port.NewCommandError(port.CodeBadValue, "encode document: %v", err)
	}

	claims, err := e.claimUnique(ctx, collection, uniques, doc, pk)
	if err != nil {
		return id, err
	}
	ok, err = e.kv.PutIfAbsent(ctx, dataTable(collection), pk, raw)
	if err != nil {
		e.release(ctx, claims)
		return id, fmt.Errorf("insert %s: %w", collection, err)
	}
	if !ok {
		e.release(ctx, claims)
		idSpec := indexSpec{Name: idIndexName, Keys: document.Document{document.E("_id", document.Int32(1))}}
		return id, duplicateKey(collection, idSpec, doc)
	}
	return id, nil
}

// replace writes next over the stored document m, moving unique index
// entries whose key changed.
func (e *Engine) replace(ctx context.Context, collection string, uniques []indexSpec, m stored, next document.Document) error {
	raw, err := document.Marshal(next)
	if err != nil {
		return port.NewCommandError(port.CodeBadValue, "encode document: %v", err)
	}

	var claims, stale []claim
	for _, spec := range uniques {
		oldKey, err := indexKey(spec, m.doc)
		if err != nil {
			return err
		}
		newKey, err := indexKey(spec, next)
		if err != nil {
			return err
		}
		if oldKey == newKey {
			continue
		}
		table := uniqueTable(collection, spec.Name)
		ok, err := e.kv.PutIfAbsent(ctx, table, newKey, []byte(m.pk))
		if err != nil {
			e.release(ctx, claims)
			return fmt.Errorf("update %s index %s: %w", collection, spec.Name, err)
		}
		if !ok {
			e.release(ctx, claims)
			return duplicateKey(collection, spec, next)
		}
		claims = append(claims, claim{table: table, key: newKey})
		stale = append(stale, claim{table: table, key: oldKey})
	}

	if err := e.kv.Put(ctx, dataTable(collection), m.pk, raw); err != nil {
		e.release(ctx, claims)
		return fmt.Errorf("update %s: %w", collection, err)
	}
	e.release(ctx, stale)
	return nil
}

func (e *Engine) claimUnique(ctx context.Context, collection string, uniques []indexSpec, doc document.Document, pk string) ([]claim, error) {
	var claims []claim
	for _, spec := range uniques {
		key, err := indexKey(spec, doc)
		if err != nil {
			e.release(ctx, claims)
			return nil, err
		}
		table := uniqueTable(collection, spec.Name)
		ok, err := e.kv.PutIfAbsent(ctx, table, key, []byte(pk))
		if err != nil {
			e.release(ctx, claims)
			return nil, fmt.Errorf("insert %s index %s: %w", collection, spec.Name, err)
		}
		if !ok {
			e.release(ctx, claims)
			return nil, duplicateKey(collection, spec, doc)
		}
		claims = append(claims, claim{table: table, key: key})
	}
	return claims, nil
}

func (e *Engine) release(ctx context.Context, claims []claim) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range claims {
		_, _ = e.kv.Delete(ctx, c.table, c.key)
	}
}

func (e *Engine) uniqueIndexes(ctx context.Context, collection string) ([]indexSpec, error) {
	specs, err := e.indexes(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("read indexes of %s: %w", collection, err)
	}
	return uniqueIndexes(specs), nil
}

// addWriteError records a per-document failure. Anything other than a
// CommandError fails the whole command and is returned.
func addWriteError(res *port.WriteResult, index int, err error) error {
	var cmdErr *port.CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	res.WriteErrors = append(res.WriteErrors, port.WriteError{Index: index, Code: cmdErr.Code, Message: cmdErr.Message})
	return nil
}

func updateError(err error) error {
	if errors.Is(err, document.ErrImmutableID) {
		return port.NewCommandError(port.CodeImmutableField, "%v", err)
	}
	return port.NewCommandError(port.CodeBadValue, "%v", err)
}

// acknowledge drops the result of unacknowledged writes; the caller
// gets no counts for them.
func acknowledge(res port.WriteResult, wc wire.WriteConcern) port.WriteResult {
	if !wc.IsAcknowledged() {
		return port.WriteResult{}
	}
	res.Acknowledged = true
	return res
}
