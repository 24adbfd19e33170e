// Package wire builds and parses the batch write commands (delete, insert,
// update) exchanged with the document database. Encoding is pure and
// order-preserving: elements keep the order they were supplied in and
// optional fields are left out rather than sent as null.
package wire

import (
	"errors"
	"time"

	"github.com/anthanhphan/go-gridstore/pkg/document"
)

const (
	CommandDelete = "delete"
	CommandInsert = "insert"
	CommandUpdate = "update"
)

// ErrMalformedCommand is returned when a command document cannot be parsed.
var ErrMalformedCommand = errors.New("malformed write command")

// WriteConcern is the acknowledgment level a write requires. W=0 requests
// an unacknowledged write. WTag, when set, replaces W with a named mode
// such as "majority".
type WriteConcern struct {
	W        int
	WTag     string
	Journal  bool
	WTimeout time.Duration
}

// Acknowledged is the default write concern: w=1.
var Acknowledged = WriteConcern{W: 1}

// IsAcknowledged reports whether the database replies with a result.
func (wc WriteConcern) IsAcknowledged() bool {
	return wc.WTag != "" || wc.W != 0 || wc.Journal
}

func (wc WriteConcern) document() document.Document {
	d := document.Document{}
	if wc.WTag != "" {
		d = d.Append("w", document.String(wc.WTag))
	} else {
		d = d.Append("w", document.Int32(int32(wc.W)))
	}
	if wc.Journal {
		d = d.Append("j", document.Bool(true))
	}
	if wc.WTimeout > 0 {
		d = d.Append("wtimeout", document.Int64(wc.WTimeout.Milliseconds()))
	}
	return d
}

// Collation carries language-aware comparison rules. Zero fields are omitted.
type Collation struct {
	Locale          string
	Strength        int
	CaseLevel       bool
	NumericOrdering bool
}

func (c Collation) document() document.Document {
	d := document.Document{document.E("locale", document.String(c.Locale))}
	if c.Strength > 0 {
		d = d.Append("strength", document.Int32(int32(c.Strength)))
	}
	if c.CaseLevel {
		d = d.Append("caseLevel", document.Bool(true))
	}
	if c.NumericOrdering {
		d = d.Append("numericOrdering", document.Bool(true))
	}
	return d
}

// DeleteElement removes documents matching Filter. Limit 0 removes every
// match, a positive limit caps the number removed.
type DeleteElement struct {
	Filter    document.Document
	Limit     int
	Collation *Collation
}

// UpdateElement modifies documents matching Filter. Update is either an
// operator document ($set, $unset) or a full replacement.
type UpdateElement struct {
	Filter       document.Document
	Update       document.Document
	Upsert       bool
	Multi        bool
	Collation    *Collation
	ArrayFilters []document.Document
}

// DeleteCommand is the typed form of a delete command document.
type DeleteCommand struct {
	Collection   string
	Ordered      bool
	WriteConcern WriteConcern
	Deletes      []DeleteElement
}

// InsertCommand is the typed form of an insert command document.
type InsertCommand struct {
	Collection   string
	Ordered      bool
	WriteConcern WriteConcern
	Documents    []document.Document
}

// UpdateCommand is the typed form of an update command document.
type UpdateCommand struct {
	Collection   string
	Ordered      bool
	WriteConcern WriteConcern
	Updates      []UpdateElement
}
