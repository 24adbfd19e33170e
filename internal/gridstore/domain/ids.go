package domain

import (
	"fmt"
	"strconv"

	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/idgen"
	"github.com/google/uuid"
)

// IDCodec fixes the file id type of a store. It maps ids to document
// values, parses them from text (URL paths) and generates fresh ones.
type IDCodec[ID comparable] interface {
	Encode(id ID) document.Value
	Decode(v document.Value) (ID, error)
	New() (ID, error)
	Format(id ID) string
	Parse(s string) (ID, error)
}

// IDGenerator is satisfied by *idgen.Snowflake.
type IDGenerator interface {
	Next() (int64, error)
}

// SnowflakeIDs stores ids as int64 values.
type SnowflakeIDs struct {
	Gen IDGenerator
}

var _ IDCodec[int64] = SnowflakeIDs{}

func NewSnowflakeIDs(gen *idgen.Snowflake) SnowflakeIDs {
	return SnowflakeIDs{Gen: gen}
}

func (SnowflakeIDs) Encode(id int64) document.Value { return document.Int64(id) }

func (SnowflakeIDs) Decode(v document.Value) (int64, error) {
	id, ok := v.Int64Value()
	if !ok {
		return 0, fmt.Errorf("id must be an integer, got %s", v.Kind())
	}
	return id, nil
}

func (s SnowflakeIDs) New() (int64, error) {
	id, err := s.Gen.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to generate snowflake id: %w", err)
	}
	return id, nil
}

func (SnowflakeIDs) Format(id int64) string { return strconv.FormatInt(id, 10) }

func (SnowflakeIDs) Parse(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

// UUIDIDs stores ids as canonical UUID strings.
type UUIDIDs struct{}

var _ IDCodec[string] = UUIDIDs{}

func (UUIDIDs) Encode(id string) document.Value { return document.String(id) }

func (UUIDIDs) Decode(v document.Value) (string, error) {
	s, ok := v.StringValue()
	if !ok {
		return "", fmt.Errorf("id must be a string, got %s", v.Kind())
	}
	return s, nil
}

func (UUIDIDs) New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

func (UUIDIDs) Format(id string) string { return id }

func (UUIDIDs) Parse(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id.String(), nil
}
