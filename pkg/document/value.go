package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindDouble
	KindString
	KindDocument
	KindArray
	KindBinary
	KindBool
	KindDateTime
	KindInt32
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindDocument:
		return "document"
	case KindArray:
		return "array"
	case KindBinary:
		return "binary"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "datetime"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single typed document value. The zero Value is null.
type Value struct {
	kind Kind
	num  int64 // int32, int64, bool and datetime (unix millis)
	f    float64
	str  string
	bin  []byte
	doc  Document
	arr  []Value
}

func Null() Value { return Value{} }

func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Int32(i int32) Value { return Value{kind: KindInt32, num: int64(i)} }

func Int64(i int64) Value { return Value{kind: KindInt64, num: i} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Binary wraps b without copying.
func Binary(b []byte) Value { return Value{kind: KindBinary, bin: b} }

// DateTime stores t with millisecond precision in UTC.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, num: t.UnixMilli()} }

func Doc(d Document) Value { return Value{kind: KindDocument, doc: d} }

func Array(values ...Value) Value { return Value{kind: KindArray, arr: values} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether v is an int32, int64 or double.
func (v Value) IsNumber() bool {
	return v.kind == KindInt32 || v.kind == KindInt64 || v.kind == KindDouble
}

func (v Value) StringValue() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Int64Value returns the integer held by an int32 or int64 value.
func (v Value) Int64Value() (int64, bool) {
	if v.kind != KindInt32 && v.kind != KindInt64 {
		return 0, false
	}
	return v.num, true
}

func (v Value) DoubleValue() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.f, true
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.num == 1, true
}

func (v Value) BinaryValue() ([]byte, bool) {
	if v.kind != KindBinary {
		return nil, false
	}
	return v.bin, true
}

func (v Value) TimeValue() (time.Time, bool) {
	if v.kind != KindDateTime {
		return time.Time{}, false
	}
	return time.UnixMilli(v.num).UTC(), true
}

func (v Value) DocumentValue() (Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

func (v Value) ArrayValue() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// float returns the numeric value of v as a float64.
func (v Value) float() float64 {
	if v.kind == KindDouble {
		return v.f
	}
	return float64(v.num)
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBinary:
		v.bin = append([]byte{}, v.bin...)
	case KindDocument:
		v.doc = v.doc.Clone()
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.Clone()
		}
		v.arr = arr
	}
	return v
}

// String renders v in a compact, human readable form for logs and errors.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v Value) render(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindDouble:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.str))
	case KindDocument:
		v.doc.render(sb)
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.render(sb)
		}
		sb.WriteByte(']')
	case KindBinary:
		fmt.Fprintf(sb, "Binary(%d bytes)", len(v.bin))
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.num == 1))
	case KindDateTime:
		sb.WriteString(time.UnixMilli(v.num).UTC().Format(time.RFC3339Nano))
	case KindInt32, KindInt64:
		sb.WriteString(strconv.FormatInt(v.num, 10))
	}
}
