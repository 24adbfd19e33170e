package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// FromJSON parses a JSON object into a Document, preserving key order.
// Integral numbers become int32 when they fit and int64 otherwise.
func FromJSON(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("json document must be an object")
	}
	d, err := readObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after json document")
	}
	return d, nil
}

func readObject(dec *json.Decoder) (Document, error) {
	d := Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read json key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected json key %v", tok)
		}
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		d = append(d, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("close json object: %w", err)
	}
	return d, nil
}

func readValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("read json value: %w", err)
	}
	switch x := tok.(type) {
	case json.Delim:
		switch x {
		case '{':
			d, err := readObject(dec)
			if err != nil {
				return Value{}, err
			}
			return Doc(d), nil
		case '[':
			items := []Value{}
			for dec.More() {
				v, err := readValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("close json array: %w", err)
			}
			return Array(items...), nil
		}
		return Value{}, fmt.Errorf("unexpected json delimiter %v", x)
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		if n, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return Int32(int32(n)), nil
			}
			return Int64(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse json number %q: %w", x, err)
		}
		return Double(f), nil
	}
	return Value{}, fmt.Errorf("unexpected json token %T", tok)
}

// ToJSON renders d as a JSON object. Binary values are base64 strings and
// datetimes are RFC 3339 strings.
func ToJSON(d Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocument(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeDocument(buf *bytes.Buffer, d Document) error {
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(buf, f.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindDouble:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return fmt.Errorf("cannot render %v as json", v.f)
		}
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		s, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindDocument:
		return writeDocument(buf, v.doc)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindBinary:
		buf.WriteByte('"')
		buf.WriteString(base64.StdEncoding.EncodeToString(v.bin))
		buf.WriteByte('"')
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.num == 1))
	case KindDateTime:
		buf.WriteByte('"')
		buf.WriteString(time.UnixMilli(v.num).UTC().Format(time.RFC3339Nano))
		buf.WriteByte('"')
	case KindInt32, KindInt64:
		buf.WriteString(strconv.FormatInt(v.num, 10))
	}
	return nil
}
