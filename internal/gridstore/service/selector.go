package service

import (
	"github.com/anthanhphan/go-gridstore/internal/gridstore/domain"
	"github.com/anthanhphan/go-gridstore/pkg/document"
)

// chunkSelector matches every chunk of a file. The upper bound is
// floor(L/C) plus one when there is a remainder, which covers the last
// index ceil(L/C)-1 with one to spare; the sort restores sequence order
// whatever order the database returns.
func chunkSelector(fileID document.Value, length int64, chunkSize int32) (filter, sort document.Document) {
	upper := length / int64(chunkSize)
	if length%int64(chunkSize) > 0 {
		upper++
	}
	return chunkRangeSelector(fileID, 0, upper)
}

// chunkRangeSelector matches chunks first..last of a file, inclusive.
func chunkRangeSelector(fileID document.Value, first, last int64) (filter, sort document.Document) {
	filter = document.Document{
		document.E(domain.FieldFilesID, fileID),
		document.E(domain.FieldN, document.Doc(document.Document{
			document.E("$gte", document.Int64(first)),
			document.E("$lte", document.Int64(last)),
		})),
	}
	sort = document.Document{document.E(domain.FieldN, document.Int32(1))}
	return filter, sort
}
