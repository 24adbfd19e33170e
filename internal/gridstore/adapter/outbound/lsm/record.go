package lsm

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Record kinds.
const (
	kindPut       byte = 1
	kindTombstone byte = 2
)

const (
	// Seq (8) | Kind (1) | Key_Len (4)
	recordHeaderSize = 8 + 1 + 4
	maxKeyLen        = 1024 * 1024
)

var (
	ErrClosed        = errors.New("lsm: storage closed")
	ErrCorruptRecord = errors.New("lsm: corrupt record")

	// errTornRecord marks a record cut short or damaged at the tail of a
	// segment.
	errTornRecord = errors.New("lsm: torn record")
)

type record struct {
	seq   uint64
	kind  byte
	key   string
	value []byte
}

// encodeRecord lays out
// Seq (8) | Kind (1) | Key_Len (4) | Key | Data_Len (4) | Data | CRC32 (4)
// with the checksum covering everything before it.
func encodeRecord(r record) []byte {
	size := recordHeaderSize + len(r.key) + 4 + len(r.value) + 4
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[0:8], r.seq)
	buf[8] = r.kind
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(r.key))) // #nosec G115
	p := recordHeaderSize
	copy(buf[p:], r.key)
	p += len(r.key)
	binary.BigEndian.PutUint32(buf[p:p+4], uint32(len(r.value))) // #nosec G115
	p += 4
	copy(buf[p:], r.value)
	p += len(r.value)
	binary.BigEndian.PutUint32(buf[p:], crc32.ChecksumIEEE(buf[:p]))
	return buf
}

// decodeRecord parses one complete encoded record.
func decodeRecord(buf []byte) (record, error) {
	if len(buf) < recordHeaderSize+8 {
		return record{}, ErrCorruptRecord
	}
	body := len(buf) - 4
	if crc32.ChecksumIEEE(buf[:body]) != binary.BigEndian.Uint32(buf[body:]) {
		return record{}, ErrCorruptRecord
	}
	keyLen := int(binary.BigEndian.Uint32(buf[9:13]))
	p := recordHeaderSize
	if p+keyLen+4 > body {
		return record{}, ErrCorruptRecord
	}
	key := string(buf[p : p+keyLen])
	p += keyLen
	dataLen := int(binary.BigEndian.Uint32(buf[p : p+4]))
	p += 4
	if p+dataLen != body {
		return record{}, ErrCorruptRecord
	}
	value := make([]byte, dataLen)
	copy(value, buf[p:body])
	return record{seq: binary.BigEndian.Uint64(buf[0:8]), kind: buf[8], key: key, value: value}, nil
}

// readRecord reads the next record of a segment and returns it with its
// encoded size. It returns io.EOF at a clean end and errTornRecord when
// the remaining bytes do not form a valid record.
func readRecord(r *bufio.Reader, maxValue int64) (record, int64, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return record{}, 0, io.EOF
		}
		return record{}, 0, tornOr(err)
	}
	keyLen := int64(binary.BigEndian.Uint32(header[9:13]))
	if keyLen <= 0 || keyLen > maxKeyLen {
		return record{}, 0, errTornRecord
	}
	kind := header[8]
	if kind != kindPut && kind != kindTombstone {
		return record{}, 0, errTornRecord
	}

	keyAndLen := make([]byte, keyLen+4)
	if _, err := io.ReadFull(r, keyAndLen); err != nil {
		return record{}, 0, tornOr(err)
	}
	dataLen := int64(binary.BigEndian.Uint32(keyAndLen[keyLen:]))
	if dataLen > maxValue {
		return record{}, 0, errTornRecord
	}

	rest := make([]byte, dataLen+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return record{}, 0, tornOr(err)
	}

	buf := make([]byte, 0, recordHeaderSize+len(keyAndLen)+len(rest))
	buf = append(buf, header...)
	buf = append(buf, keyAndLen...)
	buf = append(buf, rest...)
	rec, err := decodeRecord(buf)
	if err != nil {
		return record{}, 0, errTornRecord
	}
	return rec, int64(len(buf)), nil
}

func tornOr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errTornRecord
	}
	return err
}
