// Package wal keeps raw channel samples on disk until the engine has
// consumed them, so a restart replays whatever was still in flight.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ghalamif/TensileFlow/internal/domain"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

const (
	logName  = "samples.wal"
	metaName = "samples.commit"

	// [8 id][4 body len][4 crc32 of body]
	headerLen = 16
)

var _ ports.WAL = (*FileWAL)(nil)

type FileWAL struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWAL{
		path:     filepath.Join(dir, logName),
		metaPath: filepath.Join(dir, metaName),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := w.loadCommitted(); err != nil {
		_ = w.file.Close()
		return nil, err
	}
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return w, nil
}

// open scans the log, cuts off a torn tail record and positions for append.
func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	var (
		valid  int64
		lastID ports.WALEntryID
	)
	err = readRecords(f, func(id ports.WALEntryID, _ []byte, end int64) error {
		lastID, valid = id, end
		return nil
	})
	if err != nil && !errors.Is(err, errTornRecord) {
		_ = f.Close()
		return fmt.Errorf("wal scan: %w", err)
	}
	if err := f.Truncate(valid); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Seek(valid, io.SeekStart); err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64<<10)
	w.sizeBytes = valid
	w.nextID = lastID
	return nil
}

var errTornRecord = errors.New("wal: torn record")

// readRecords walks every intact record of r. end is the offset just past
// the record. A truncated or checksum-failing record stops the walk with
// errTornRecord.
func readRecords(r io.Reader, fn func(id ports.WALEntryID, body []byte, end int64) error) error {
	br := bufio.NewReader(r)
	var offset int64
	for {
		var hdr [headerLen]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornRecord
			}
			return err
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		n := binary.BigEndian.Uint32(hdr[8:12])
		sum := binary.BigEndian.Uint32(hdr[12:16])

		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errTornRecord
			}
			return err
		}
		if crc32.ChecksumIEEE(body) != sum {
			return errTornRecord
		}
		offset += headerLen + int64(n)
		if err := fn(id, body, offset); err != nil {
			return err
		}
	}
}

func (w *FileWAL) loadCommitted() error {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("wal commit marker: %w", err)
	}
	w.committed = ports.WALEntryID(u)
	return nil
}

func (w *FileWAL) Append(s *domain.Sample) (ports.WALEntryID, error) {
	body, err := encodeSample(s)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1
	var hdr [headerLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(body); err != nil {
		return 0, err
	}
	w.nextID = id
	w.sizeBytes += int64(headerLen + len(body))
	return id, nil
}

// Iterate calls fn for every record with id >= from.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, s *domain.Sample) error) error {
	w.mu.Lock()
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = readRecords(f, func(id ports.WALEntryID, body []byte, _ int64) error {
		if id < from {
			return nil
		}
		s, err := decodeSample(body)
		if err != nil {
			return fmt.Errorf("wal entry %d: %w", id, err)
		}
		return fn(id, s)
	})
	if errors.Is(err, errTornRecord) {
		return nil
	}
	return err
}

// Commit marks every record up to upto as consumed. Buffered appends are
// flushed first so a commit never covers records that are not on disk.
func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if upto > w.nextID {
		upto = w.nextID
	}
	if upto <= w.committed {
		return nil
	}
	w.committed = upto
	return w.persistMetaLocked()
}

// TruncateCommitted rewrites the log keeping only uncommitted records.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}

	tmpPath := w.path + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	out := bufio.NewWriter(tmp)
	var size int64

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return err
	}
	err = readRecords(w.file, func(id ports.WALEntryID, body []byte, _ int64) error {
		if id <= w.committed {
			return nil
		}
		var hdr [headerLen]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
		binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
		binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(body))
		if _, err := out.Write(hdr[:]); err != nil {
			return err
		}
		_, err := out.Write(body)
		size += headerLen + int64(len(body))
		return err
	})
	if err != nil && !errors.Is(err, errTornRecord) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("wal compact: %w", err)
	}
	if err := out.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer.Reset(f)
	w.sizeBytes = size
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

// Close flushes pending appends and releases the log file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.writer.Flush()
	return errors.Join(err, w.file.Close())
}

func (w *FileWAL) persistMetaLocked() error {
	tmp := w.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(w.committed), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.metaPath)
}
