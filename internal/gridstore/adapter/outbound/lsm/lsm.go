package lsm

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/config"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/gosdk/logger"
)

// IndexEntry stores the location of a live record in a specific segment file.
type IndexEntry struct {
	SegmentID uint64
	Offset    int64
	Size      int64
	Seq       uint64
}

// LSMAdapter implements port.KVBackend using segmented append-only logs and an in-memory index.
// Every write carries a sequence number so replay keeps the newest record
// of a key no matter which segment it landed in.
type LSMAdapter struct {
	indexMu             sync.RWMutex
	fileMu              sync.Mutex
	compactionMu        sync.Mutex
	dirPath             string
	activeFile          *os.File
	activeFileID        uint64
	lastSegmentID       uint64
	seq                 uint64
	maxSegmentSize      int64
	index               map[string]IndexEntry
	fsync               bool
	compactionThreshold int
	compacting          atomic.Bool
}

var _ port.KVBackend = (*LSMAdapter)(nil)

const (
	// DefaultMaxSegmentSize is 64MB
	DefaultMaxSegmentSize = 64 * 1024 * 1024
	SegmentPrefix         = "segment_"
	SegmentSuffix         = ".log"
	IndexFileName         = "index.gob"
)

// checkpoint is the gob image of the index written on Close. It is only
// trusted when every segment on disk still has the recorded size.
type checkpoint struct {
	Seq      uint64
	Segments map[uint64]int64
	Index    map[string]IndexEntry
}

// NewLSMAdapter initializes the storage engine.
// It loads the index checkpoint when it matches the segments on disk and
// replays the logs otherwise.
func NewLSMAdapter(cfg config.LSMConfig) (*LSMAdapter, error) {
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	adapter := &LSMAdapter{
		dirPath:             filepath.Clean(cfg.DataDir),
		index:               make(map[string]IndexEntry),
		maxSegmentSize:      cfg.MaxSegmentSize,
		fsync:               cfg.FSync,
		compactionThreshold: cfg.CompactionThreshold,
	}
	if adapter.maxSegmentSize <= 0 {
		adapter.maxSegmentSize = DefaultMaxSegmentSize
	}

	if err := adapter.recover(); err != nil {
		return nil, fmt.Errorf("failed to replay logs: %w", err)
	}
	return adapter, nil
}

func (a *LSMAdapter) getSegmentPath(id uint64) string {
	return filepath.Join(a.dirPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix))
}

func (a *LSMAdapter) getIndexPath() string {
	return filepath.Join(a.dirPath, IndexFileName)
}

func compositeKey(table, key string) string {
	return table + "\x00" + key
}

func (a *LSMAdapter) listSegments() ([]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(a.dirPath, SegmentPrefix+"*"+SegmentSuffix))
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, m := range matches {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(m), SegmentPrefix+"%d"+SegmentSuffix, &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (a *LSMAdapter) segmentSizes(ids []uint64) (map[uint64]int64, error) {
	sizes := make(map[uint64]int64, len(ids))
	for _, id := range ids {
		info, err := os.Stat(a.getSegmentPath(id))
		if err != nil {
			return nil, err
		}
		sizes[id] = info.Size()
	}
	return sizes, nil
}

func (a *LSMAdapter) recover() error {
	segmentIDs, err := a.listSegments()
	if err != nil {
		return err
	}

	if len(segmentIDs) > 0 {
		a.lastSegmentID = segmentIDs[len(segmentIDs)-1]
	}

	if a.loadCheckpoint(segmentIDs) {
		logger.Infow("Index checkpoint loaded", "data_dir", a.dirPath, "live_keys", len(a.index))
	} else {
		tombstones := make(map[string]uint64)
		for _, id := range segmentIDs {
			if err := a.replaySegment(id, tombstones); err != nil {
				return err
			}
		}
		logger.Infow("Segments replayed", "data_dir", a.dirPath, "segments", len(segmentIDs), "live_keys", len(a.index))
	}

	// Appending to an existing segment keeps the file count stable across
	// restarts.
	a.activeFileID = a.lastSegmentID
	if a.activeFileID == 0 {
		a.activeFileID = 1
		a.lastSegmentID = 1
	}
	return a.openActiveFile()
}

func (a *LSMAdapter) loadCheckpoint(segmentIDs []uint64) bool {
	f, err := os.Open(a.getIndexPath())
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	var cp checkpoint
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		logger.Warnw("Ignoring unreadable index checkpoint", "error", err.Error())
		return false
	}

	sizes, err := a.segmentSizes(segmentIDs)
	if err != nil || len(sizes) != len(cp.Segments) {
		return false
	}
	for id, size := range sizes {
		if cp.Segments[id] != size {
			return false
		}
	}

	if cp.Index == nil {
		cp.Index = make(map[string]IndexEntry)
	}
	a.index = cp.Index
	a.seq = cp.Seq
	return true
}

func (a *LSMAdapter) saveIndex() error {
	segmentIDs, err := a.listSegments()
	if err != nil {
		return err
	}
	sizes, err := a.segmentSizes(segmentIDs)
	if err != nil {
		return err
	}

	a.indexMu.RLock()
	defer a.indexMu.RUnlock()

	tmp := a.getIndexPath() + ".tmp"
	f, err := os.Create(tmp) // #nosec G304
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(checkpoint{Seq: a.seq, Segments: sizes, Index: a.index}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, a.getIndexPath())
}

func (a *LSMAdapter) openActiveFile() error {
	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	return a.openActiveFileLocked()
}

func (a *LSMAdapter) openActiveFileLocked() error {
	filePath := a.getSegmentPath(a.activeFileID)
	// G304: filePath is constructed from internal data dir and ID
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return err
	}
	a.activeFile = file
	return nil
}

func (a *LSMAdapter) replaySegment(id uint64, tombstones map[string]uint64) error {
	file, err := os.OpenFile(a.getSegmentPath(id), os.O_RDWR, 0600) // #nosec G304
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	offset := int64(0)
	truncated := false

	for {
		rec, size, err := readRecord(reader, a.maxSegmentSize*4)
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTornRecord) {
			truncated = true
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read segment %d: %w", id, err)
		}

		a.applyReplayed(rec, IndexEntry{SegmentID: id, Offset: offset, Size: size, Seq: rec.seq}, tombstones)
		offset += size
	}

	if truncated {
		if err := file.Truncate(offset); err != nil {
			return fmt.Errorf("failed to truncate partial segment %d: %w", id, err)
		}
		logger.Warnw("Truncated partial segment tail during replay", "segment_id", id, "valid_bytes", offset)
	}
	return nil
}

// applyReplayed keeps the record only if nothing newer was seen for its key.
func (a *LSMAdapter) applyReplayed(rec record, entry IndexEntry, tombstones map[string]uint64) {
	if rec.seq > a.seq {
		a.seq = rec.seq
	}
	if cur, ok := a.index[rec.key]; ok && cur.Seq > rec.seq {
		return
	}
	if deletedAt, ok := tombstones[rec.key]; ok && deletedAt > rec.seq {
		return
	}
	if rec.kind == kindTombstone {
		delete(a.index, rec.key)
		tombstones[rec.key] = rec.seq
		return
	}
	delete(tombstones, rec.key)
	a.index[rec.key] = entry
}

// appendLocked writes one record to the active segment. fileMu must be held.
func (a *LSMAdapter) appendLocked(kind byte, key string, value []byte) (IndexEntry, error) {
	if a.activeFile == nil {
		return IndexEntry{}, ErrClosed
	}
	if len(key) > maxKeyLen {
		return IndexEntry{}, fmt.Errorf("key too long")
	}
	if int64(len(value)) > a.maxSegmentSize*4 {
		return IndexEntry{}, fmt.Errorf("value too large")
	}

	offset, err := a.activeFile.Seek(0, io.SeekEnd)
	if err != nil {
		return IndexEntry{}, err
	}
	seq := a.seq + 1
	buf := encodeRecord(record{seq: seq, kind: kind, key: key, value: value})
	if _, err := a.activeFile.Write(buf); err != nil {
		// Drop whatever part of the record made it to disk.
		_ = a.activeFile.Truncate(offset)
		return IndexEntry{}, err
	}
	if a.fsync {
		_ = a.activeFile.Sync()
	}
	a.seq = seq
	return IndexEntry{SegmentID: a.activeFileID, Offset: offset, Size: int64(len(buf)), Seq: seq}, nil
}

// rotateLocked starts a new segment once the active one is full and
// triggers compaction past the threshold. fileMu must be held.
func (a *LSMAdapter) rotateLocked() {
	info, err := a.activeFile.Stat()
	if err != nil || info.Size() <= a.maxSegmentSize {
		return
	}

	_ = a.activeFile.Close()
	a.activeFile = nil
	a.lastSegmentID++
	a.activeFileID = a.lastSegmentID
	if err := a.openActiveFileLocked(); err != nil {
		logger.Errorw("Failed to open new segment", "segment_id", a.activeFileID, "error", err.Error())
		return
	}

	segments, err := a.listSegments()
	if err != nil {
		return
	}
	if a.compactionThreshold > 0 && len(segments) > a.compactionThreshold && a.compacting.CompareAndSwap(false, true) {
		go func() {
			defer a.compacting.Store(false)
			if err := a.Compact(); err != nil {
				logger.Warnw("Background compaction failed", "error", err.Error())
			}
		}()
	}
}

func (a *LSMAdapter) write(kind byte, table, key string, value []byte, onlyIfAbsent, onlyIfPresent bool) (bool, error) {
	ck := compositeKey(table, key)

	// Serialize writes to file
	a.fileMu.Lock()
	defer a.fileMu.Unlock()

	a.indexMu.RLock()
	_, exists := a.index[ck]
	a.indexMu.RUnlock()
	if (onlyIfAbsent && exists) || (onlyIfPresent && !exists) {
		return false, nil
	}

	entry, err := a.appendLocked(kind, ck, value)
	if err != nil {
		return false, err
	}

	a.indexMu.Lock()
	if kind == kindTombstone {
		delete(a.index, ck)
	} else {
		a.index[ck] = entry
	}
	a.indexMu.Unlock()

	a.rotateLocked()
	return true, nil
}

func (a *LSMAdapter) Put(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.write(kindPut, table, key, value, false, false)
	return err
}

func (a *LSMAdapter) PutIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.write(kindPut, table, key, value, true, false)
}

// Delete appends a tombstone; space is reclaimed by compaction.
func (a *LSMAdapter) Delete(ctx context.Context, table, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.write(kindTombstone, table, key, nil, false, true)
}

func (a *LSMAdapter) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return a.lookup(compositeKey(table, key))
}

// lookup reads the live record of ck. A segment removed by a concurrent
// compaction is retried against the republished index.
func (a *LSMAdapter) lookup(ck string) ([]byte, bool, error) {
	for attempt := 0; ; attempt++ {
		a.indexMu.RLock()
		entry, exists := a.index[ck]
		a.indexMu.RUnlock()
		if !exists {
			return nil, false, nil
		}

		rec, err := a.readEntry(entry)
		if errors.Is(err, fs.ErrNotExist) && attempt < 3 {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if rec.key != ck {
			return nil, false, fmt.Errorf("%w: segment %d offset %d holds another key", ErrCorruptRecord, entry.SegmentID, entry.Offset)
		}
		return rec.value, true, nil
	}
}

func (a *LSMAdapter) readEntry(entry IndexEntry) (record, error) {
	f, err := os.Open(a.getSegmentPath(entry.SegmentID)) // #nosec G304
	if err != nil {
		return record{}, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, entry.Size)
	if _, err := f.ReadAt(buf, entry.Offset); err != nil {
		return record{}, err
	}
	return decodeRecord(buf)
}

// Scan visits the live keys of table in key order. It works on a
// snapshot of the index, so fn may write to the store.
func (a *LSMAdapter) Scan(ctx context.Context, table string, fn func(key string, value []byte) error) error {
	prefix := compositeKey(table, "")

	a.indexMu.RLock()
	var keys []string
	for ck := range a.index {
		if strings.HasPrefix(ck, prefix) {
			keys = append(keys, ck)
		}
	}
	a.indexMu.RUnlock()
	sort.Strings(keys)

	for _, ck := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, ok, err := a.lookup(ck)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(strings.TrimPrefix(ck, prefix), value); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for a running compaction, closes the active segment and
// saves the index checkpoint.
func (a *LSMAdapter) Close() error {
	a.compactionMu.Lock()
	defer a.compactionMu.Unlock()

	a.fileMu.Lock()
	defer a.fileMu.Unlock()
	if a.activeFile == nil {
		return nil
	}
	_ = a.activeFile.Sync()
	err := a.activeFile.Close()
	a.activeFile = nil

	if err := a.saveIndex(); err != nil {
		logger.Warnw("Failed to save index on close", "error", err.Error())
	}
	return err
}

// LiveKeys reports how many keys the index holds across all tables.
func (a *LSMAdapter) LiveKeys() int {
	a.indexMu.RLock()
	defer a.indexMu.RUnlock()
	return len(a.index)
}

// Compact merges segments and reclaims disk space by keeping only records that are in the current index.
func (a *LSMAdapter) Compact() error {
	a.compactionMu.Lock()
	defer a.compactionMu.Unlock()

	// Rotate active segment so new writes land outside the compaction snapshot.
	a.fileMu.Lock()
	if a.activeFile == nil {
		a.fileMu.Unlock()
		return ErrClosed
	}
	_ = a.activeFile.Sync()
	_ = a.activeFile.Close()
	a.activeFile = nil
	oldActiveID := a.activeFileID
	a.lastSegmentID++
	a.activeFileID = a.lastSegmentID
	if err := a.openActiveFileLocked(); err != nil {
		a.fileMu.Unlock()
		return fmt.Errorf("failed to open new active file during compaction: %w", err)
	}
	a.fileMu.Unlock()

	logger.Infow("Compaction started", "max_segment_id", oldActiveID)

	compactPath := filepath.Join(a.dirPath, "compact")
	if err := os.MkdirAll(compactPath, 0750); err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(compactPath) }()

	// Snapshot only segments that existed before rotation.
	a.indexMu.RLock()
	snapshot := make(map[string]IndexEntry)
	for ck, entry := range a.index {
		if entry.SegmentID <= oldActiveID {
			snapshot[ck] = entry
		}
	}
	a.indexMu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for ck := range snapshot {
		keys = append(keys, ck)
	}
	sort.Strings(keys)

	newIndex := make(map[string]IndexEntry, len(snapshot))
	tempPath := func(id uint64) string {
		return filepath.Clean(filepath.Join(compactPath, fmt.Sprintf("%s%05d%s", SegmentPrefix, id, SegmentSuffix)))
	}

	curID := uint64(1)
	f, err := os.OpenFile(tempPath(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return err
	}

	offset := int64(0)
	for _, ck := range keys {
		entry := snapshot[ck]
		rec, err := a.readEntry(entry)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("read segment %d: %w", entry.SegmentID, err)
		}
		// Records keep their sequence numbers.
		buf := encodeRecord(rec)
		if _, err := f.Write(buf); err != nil {
			_ = f.Close()
			return err
		}
		newIndex[ck] = IndexEntry{SegmentID: curID, Offset: offset, Size: int64(len(buf)), Seq: rec.seq}
		offset += int64(len(buf))

		if offset > a.maxSegmentSize {
			if err := f.Close(); err != nil {
				return err
			}
			curID++
			f, err = os.OpenFile(tempPath(curID), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600) // #nosec G304
			if err != nil {
				return err
			}
			offset = 0
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	a.fileMu.Lock()
	a.indexMu.Lock()

	// Move compacted segments into permanent IDs above every existing segment.
	tempToDest := make(map[uint64]uint64, curID)
	for id := uint64(1); id <= curID; id++ {
		a.lastSegmentID++
		if err := os.Rename(tempPath(id), a.getSegmentPath(a.lastSegmentID)); err != nil {
			a.indexMu.Unlock()
			a.fileMu.Unlock()
			return err
		}
		tempToDest[id] = a.lastSegmentID
	}

	// Only entries untouched since the snapshot move to compacted segments.
	for ck, compacted := range newIndex {
		live, exists := a.index[ck]
		if !exists || live.Seq != compacted.Seq {
			continue
		}
		compacted.SegmentID = tempToDest[compacted.SegmentID]
		a.index[ck] = compacted
	}

	referenced := make(map[uint64]struct{}, len(a.index)+1)
	for _, entry := range a.index {
		referenced[entry.SegmentID] = struct{}{}
	}
	referenced[a.activeFileID] = struct{}{}
	liveKeys := len(a.index)

	a.indexMu.Unlock()
	a.fileMu.Unlock()

	// Delete the compacted inputs after publishing the new index.
	segmentIDs, _ := a.listSegments()
	for _, segID := range segmentIDs {
		if segID > oldActiveID {
			continue
		}
		if _, keep := referenced[segID]; keep {
			continue
		}
		_ = os.Remove(a.getSegmentPath(segID))
	}

	logger.Infow("Compaction finished", "compacted_segments_upto", oldActiveID, "live_keys", liveKeys)
	return nil
}
