package wire

import (
	"fmt"
	"time"

	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// CommandName returns the command a document carries, taken from its
// first key.
func CommandName(cmd document.Document) (string, error) {
	if len(cmd) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrMalformedCommand)
	}
	switch name := cmd[0].Key; name {
	case CommandDelete, CommandInsert, CommandUpdate:
		return name, nil
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, name)
	}
}

func DecodeDelete(cmd document.Document) (DeleteCommand, error) {
	var out DeleteCommand
	items, err := decodeHeader(cmd, CommandDelete, "deletes", &out.Collection, &out.Ordered, &out.WriteConcern)
	if err != nil {
		return out, err
	}
	for i, item := range items {
		el, ok := item.DocumentValue()
		if !ok {
			return out, malformed("deletes.%d is not a document", i)
		}
		filter, err := requiredDocument(el, "q")
		if err != nil {
			return out, fmt.Errorf("deletes.%d: %w", i, err)
		}
		limitVal, ok := el.Lookup("limit")
		if !ok {
			return out, malformed("deletes.%d: missing limit", i)
		}
		limit, ok := limitVal.Int64Value()
		if !ok || limit < 0 {
			return out, malformed("deletes.%d: limit must be a non-negative integer", i)
		}
		collation, err := optionalCollation(el)
		if err != nil {
			return out, fmt.Errorf("deletes.%d: %w", i, err)
		}
		out.Deletes = append(out.Deletes, DeleteElement{Filter: filter, Limit: int(limit), Collation: collation})
	}
	return out, nil
}

func DecodeInsert(cmd document.Document) (InsertCommand, error) {
	var out InsertCommand
	items, err := decodeHeader(cmd, CommandInsert, "documents", &out.Collection, &out.Ordered, &out.WriteConcern)
	if err != nil {
		return out, err
	}
	for i, item := range items {
		d, ok := item.DocumentValue()
		if !ok {
			return out, malformed("documents.%d is not a document", i)
		}
		out.Documents = append(out.Documents, d)
	}
	return out, nil
}

func DecodeUpdate(cmd document.Document) (UpdateCommand, error) {
	var out UpdateCommand
	items, err := decodeHeader(cmd, CommandUpdate, "updates", &out.Collection, &out.Ordered, &out.WriteConcern)
	if err != nil {
		return out, err
	}
	for i, item := range items {
		el, ok := item.DocumentValue()
		if !ok {
			return out, malformed("updates.%d is not a document", i)
		}
		var upd UpdateElement
		if upd.Filter, err = requiredDocument(el, "q"); err != nil {
			return out, fmt.Errorf("updates.%d: %w", i, err)
		}
		if upd.Update, err = requiredDocument(el, "u"); err != nil {
			return out, fmt.Errorf("updates.%d: %w", i, err)
		}
		if upd.Upsert, err = optionalBool(el, "upsert"); err != nil {
			return out, fmt.Errorf("updates.%d: %w", i, err)
		}
		if upd.Multi, err = optionalBool(el, "multi"); err != nil {
			return out, fmt.Errorf("updates.%d: %w", i, err)
		}
		if upd.Collation, err = optionalCollation(el); err != nil {
			return out, fmt.Errorf("updates.%d: %w", i, err)
		}
		if v, ok := el.Lookup("arrayFilters"); ok {
			filters, ok := v.ArrayValue()
			if !ok {
				return out, malformed("updates.%d: arrayFilters must be an array", i)
			}
			for _, f := range filters {
				fd, ok := f.DocumentValue()
				if !ok {
					return out, malformed("updates.%d: arrayFilters entries must be documents", i)
				}
				upd.ArrayFilters = append(upd.ArrayFilters, fd)
			}
		}
		out.Updates = append(out.Updates, upd)
	}
	return out, nil
}

func decodeHeader(cmd document.Document, name, listKey string, collection *string, ordered *bool, wc *WriteConcern) ([]document.Value, error) {
	got, err := CommandName(cmd)
	if err != nil {
		return nil, err
	}
	if got != name {
		return nil, malformed("expected %s command, got %s", name, got)
	}
	coll, ok := cmd[0].Value.StringValue()
	if !ok || coll == "" {
		return nil, malformed("%s: collection name must be a non-empty string", name)
	}
	*collection = coll

	*ordered = true
	if v, ok := cmd.Lookup("ordered"); ok {
		b, ok := v.BoolValue()
		if !ok {
			return nil, malformed("ordered must be a boolean")
		}
		*ordered = b
	}

	*wc = Acknowledged
	if v, ok := cmd.Lookup("writeConcern"); ok {
		d, ok := v.DocumentValue()
		if !ok {
			return nil, malformed("writeConcern must be a document")
		}
		parsed, err := decodeWriteConcern(d)
		if err != nil {
			return nil, err
		}
		*wc = parsed
	}

	v, ok := cmd.Lookup(listKey)
	if !ok {
		return nil, malformed("%s: missing %s", name, listKey)
	}
	items, ok := v.ArrayValue()
	if !ok {
		return nil, malformed("%s: %s must be an array", name, listKey)
	}
	if len(items) == 0 {
		return nil, malformed("%s: %s must not be empty", name, listKey)
	}
	return items, nil
}

func decodeWriteConcern(d document.Document) (WriteConcern, error) {
	var wc WriteConcern
	if v, ok := d.Lookup("w"); ok {
		if tag, ok := v.StringValue(); ok {
			wc.WTag = tag
		} else if n, ok := v.Int64Value(); ok && n >= 0 {
			wc.W = int(n)
		} else {
			return wc, malformed("writeConcern.w must be a non-negative integer or a string")
		}
	} else {
		wc.W = 1
	}
	j, err := optionalBool(d, "j")
	if err != nil {
		return wc, fmt.Errorf("writeConcern: %w", err)
	}
	wc.Journal = j
	if v, ok := d.Lookup("wtimeout"); ok {
		ms, ok := v.Int64Value()
		if !ok || ms < 0 {
			return wc, malformed("writeConcern.wtimeout must be a non-negative integer")
		}
		wc.WTimeout = time.Duration(ms) * time.Millisecond
	}
	return wc, nil
}

func optionalCollation(el document.Document) (*Collation, error) {
	v, ok := el.Lookup("collation")
	if !ok {
		return nil, nil
	}
	d, ok := v.DocumentValue()
	if !ok {
		return nil, malformed("collation must be a document")
	}
	locale, ok := d.Lookup("locale")
	if !ok {
		return nil, malformed("collation.locale is required")
	}
	c := &Collation{}
	if c.Locale, ok = locale.StringValue(); !ok {
		return nil, malformed("collation.locale must be a string")
	}
	if s, ok := d.Lookup("strength"); ok {
		n, ok := s.Int64Value()
		if !ok || n < 1 || n > 5 {
			return nil, malformed("collation.strength must be between 1 and 5")
		}
		c.Strength = int(n)
	}
	var err error
	if c.CaseLevel, err = optionalBool(d, "caseLevel"); err != nil {
		return nil, err
	}
	if c.NumericOrdering, err = optionalBool(d, "numericOrdering"); err != nil {
		return nil, err
	}
	return c, nil
}

func requiredDocument(d document.Document, key string) (document.Document, error) {
	v, ok := d.Lookup(key)
	if !ok {
		return nil, malformed("missing %s", key)
	}
	out, ok := v.DocumentValue()
	if !ok {
		return nil, malformed("%s must be a document", key)
	}
	return out, nil
}

func optionalBool(d document.Document, key string) (bool, error) {
	v, ok := d.Lookup(key)
	if !ok {
		return false, nil
	}
	b, ok := v.BoolValue()
	if !ok {
		return false, malformed("%s must be a boolean", key)
	}
	return b, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCommand, fmt.Sprintf(format, args...))
}
