package document

import (
	"bytes"
	"sort"
	"strings"
)

// canonical type order used when comparing values of different kinds.
func typeOrder(k Kind) int {
	switch k {
	case KindNull:
		return 1
	case KindDouble, KindInt32, KindInt64:
		return 2
	case KindString:
		return 3
	case KindDocument:
		return 4
	case KindArray:
		return 5
	case KindBinary:
		return 6
	case KindBool:
		return 7
	case KindDateTime:
		return 8
	default:
		return 9
	}
}

// Compare orders two values. Values of different kinds are ordered by their
// type class; numbers compare numerically regardless of width.
func Compare(a, b Value) int {
	oa, ob := typeOrder(a.kind), typeOrder(b.kind)
	if oa != ob {
		return cmpInt(int64(oa), int64(ob))
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindDouble, KindInt32, KindInt64:
		if a.kind != KindDouble && b.kind != KindDouble {
			return cmpInt(a.num, b.num)
		}
		fa, fb := a.float(), b.float()
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.str, b.str)
	case KindDocument:
		return compareDocuments(a.doc, b.doc)
	case KindArray:
		for i := 0; i < len(a.arr) && i < len(b.arr); i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(a.arr)), int64(len(b.arr)))
	case KindBinary:
		if len(a.bin) != len(b.bin) {
			return cmpInt(int64(len(a.bin)), int64(len(b.bin)))
		}
		return bytes.Compare(a.bin, b.bin)
	case KindBool, KindDateTime:
		return cmpInt(a.num, b.num)
	}
	return 0
}

// Equal reports whether two values compare equal.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func compareDocuments(a, b Document) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(a)), int64(len(b)))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortDocuments stably sorts docs by a sort specification such as
// {n: 1} or {filename: 1, uploadDate: -1}. Missing fields sort as null.
func SortDocuments(docs []Document, spec Document) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range spec {
			dir := 1
			if n, ok := key.Value.Int64Value(); ok && n < 0 {
				dir = -1
			} else if f, ok := key.Value.DoubleValue(); ok && f < 0 {
				dir = -1
			}
			a, _ := docs[i].LookupPath(key.Key)
			b, _ := docs[j].LookupPath(key.Key)
			if c := Compare(a, b); c != 0 {
				return c*dir < 0
			}
		}
		return false
	})
}
