package docdb

import (
	"context"

	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// cursor walks a materialized result set.
type cursor struct {
	docs    []document.Document
	pos     int
	current document.Document
	err     error
	closed  bool
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		c.current = nil
		return false
	}
	c.current = c.docs[c.pos]
	c.pos++
	return true
}

func (c *cursor) Document() document.Document { return c.current }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(context.Context) error {
	c.closed = true
	c.docs = nil
	c.current = nil
	return nil
}
