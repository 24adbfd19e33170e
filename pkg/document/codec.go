package document

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Private CBOR tags keep kinds that plain CBOR cannot distinguish.
const (
	tagDocument = 61001 // content: [k1, v1, k2, v2, ...]
	tagInt32    = 61002 // content: integer
	tagDateTime = 61003 // content: unix milliseconds
)

var ErrMalformed = errors.New("malformed document encoding")

// encMode uses Core Deterministic Encoding so equal documents always
// produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("document: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic("document: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes d to its canonical binary form.
func Marshal(d Document) ([]byte, error) {
	return encMode.Marshal(toCBOR(Doc(d)))
}

// MarshalValue encodes a single value.
func MarshalValue(v Value) ([]byte, error) {
	return encMode.Marshal(toCBOR(v))
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (Document, error) {
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.DocumentValue()
	if !ok {
		return nil, fmt.Errorf("%w: top level is %s, not a document", ErrMalformed, v.Kind())
	}
	return d, nil
}

// UnmarshalValue decodes bytes produced by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromCBOR(raw)
}

func toCBOR(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindDouble:
		return v.f
	case KindString:
		return v.str
	case KindDocument:
		content := make([]any, 0, 2*len(v.doc))
		for _, f := range v.doc {
			content = append(content, f.Key, toCBOR(f.Value))
		}
		return cbor.Tag{Number: tagDocument, Content: content}
	case KindArray:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = toCBOR(item)
		}
		return items
	case KindBinary:
		if v.bin == nil {
			return []byte{}
		}
		return v.bin
	case KindBool:
		return v.num == 1
	case KindDateTime:
		return cbor.Tag{Number: tagDateTime, Content: v.num}
	case KindInt32:
		return cbor.Tag{Number: tagInt32, Content: v.num}
	case KindInt64:
		return v.num
	}
	return nil
}

func fromCBOR(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Binary(x), nil
	case float64:
		return Double(x), nil
	case float32:
		return Double(float64(x)), nil
	case uint64, int64:
		n, err := toInt64(x)
		if err != nil {
			return Value{}, err
		}
		return Int64(n), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := fromCBOR(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case cbor.Tag:
		return fromTag(x)
	default:
		return Value{}, fmt.Errorf("%w: unexpected item %T", ErrMalformed, raw)
	}
}

func fromTag(t cbor.Tag) (Value, error) {
	switch t.Number {
	case tagDocument:
		content, ok := t.Content.([]any)
		if !ok || len(content)%2 != 0 {
			return Value{}, fmt.Errorf("%w: document tag content", ErrMalformed)
		}
		d := make(Document, 0, len(content)/2)
		for i := 0; i < len(content); i += 2 {
			key, ok := content[i].(string)
			if !ok {
				return Value{}, fmt.Errorf("%w: non-string key %T", ErrMalformed, content[i])
			}
			v, err := fromCBOR(content[i+1])
			if err != nil {
				return Value{}, err
			}
			d = append(d, Field{Key: key, Value: v})
		}
		return Doc(d), nil
	case tagInt32:
		n, err := toInt64(t.Content)
		if err != nil {
			return Value{}, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: int32 out of range", ErrMalformed)
		}
		return Int32(int32(n)), nil
	case tagDateTime:
		n, err := toInt64(t.Content)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindDateTime, num: n}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown tag %d", ErrMalformed, t.Number)
	}
}

func toInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: integer overflow", ErrMalformed)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%w: expected integer, got %T", ErrMalformed, raw)
	}
}
