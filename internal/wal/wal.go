// Package wal implements the engine's Write-Ahead Log (C9): every
// structural mutation is framed as BEGIN ... COMMIT (or an implicit abort
// via a missing COMMIT) before the in-memory arenas are touched, so the
// recovery engine (internal/recovery) can replay or discard it deterministically
// after a crash. Record framing and the file header are fixed by spec.md §6;
// this package is the single place that encodes or decodes that layout.
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/razorfs/razorfs/internal/errs"
	"github.com/razorfs/razorfs/internal/logger"
)

// WAL is the append-only log file for one mount. Single-writer: every
// Append and Flush is serialized through mu, matching the per-node lock
// registry's "never held across blocking I/O" policy -- mu is held only
// for the encode-and-write, not across fsync, except where Flush itself
// requires it for commit durability.
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	nextTx  atomic.Uint64
	nextSeq atomic.Uint64

	bytesWritten int64
}

// Open opens path, creating and initializing it with a file header if it
// does not exist, or validating an existing header's magic and version.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrIO, err, "wal: open "+path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrapf(errs.ErrIO, err, "wal: stat "+path)
	}

	w := &WAL{f: f, w: bufio.NewWriter(f), path: path}

	if info.Size() == 0 {
		if err := w.writeFileHeader(); err != nil {
			f.Close()
			return nil, err
		}
		w.bytesWritten = fileHeaderBytes
		return w, nil
	}

	if err := w.validateFileHeader(); err != nil {
		f.Close()
		return nil, err
	}
	w.bytesWritten = info.Size()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, errs.Wrapf(errs.ErrIO, err, "wal: seek to end")
	}
	return w, nil
}

func (w *WAL) writeFileHeader() error {
	var hdr [fileHeaderBytes]byte
	copy(hdr[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], fileMajorVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], fileMinorVersion)
	// hdr[8:12] is reserved, left zero.
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: write file header")
	}
	return nil
}

func (w *WAL) validateFileHeader() error {
	var hdr [fileHeaderBytes]byte
	if _, err := io.ReadFull(io.NewSectionReader(w.f, 0, fileHeaderBytes), hdr[:]); err != nil {
		return errs.Wrapf(errs.ErrCorrupt, err, "wal: read file header")
	}
	if hdr[0] != fileMagic[0] || hdr[1] != fileMagic[1] || hdr[2] != fileMagic[2] || hdr[3] != fileMagic[3] {
		return errs.Wrap(errs.ErrCorrupt, "wal: bad file magic")
	}
	major := binary.LittleEndian.Uint16(hdr[4:6])
	if major != fileMajorVersion {
		return errs.Wrap(errs.ErrVersion, "wal: incompatible major version")
	}
	return nil
}

// Path returns the WAL's backing file path.
func (w *WAL) Path() string { return w.path }

// Close flushes and closes the backing file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: flush on close")
	}
	if err := w.f.Close(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: close")
	}
	return nil
}

// NewTxID allocates a fresh, process-unique transaction id.
func (w *WAL) NewTxID() uint64 { return w.nextTx.Add(1) }

// append encodes rec and writes it to the buffered writer. Callers must
// call Flush (directly, or via Transaction.Commit) to make the write
// durable; append alone only guarantees process-local visibility.
func (w *WAL) append(rec Record) error {
	rec.Sequence = w.nextSeq.Add(1)

	payloadLen := len(rec.Payload)
	if payloadLen > 0xFFFF {
		return errs.Wrap(errs.ErrInvalid, "wal: payload too large for 16-bit length field")
	}

	buf := make([]byte, recordFixedBytes+payloadLen+crcBytes)
	off := 0
	copy(buf[off:off+4], recordMagic[:])
	off += 4
	buf[off] = byte(rec.Type)
	off++
	buf[off] = 0 // reserved
	off++
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(payloadLen))
	off += 2
	binary.LittleEndian.PutUint64(buf[off:off+8], rec.TxID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], rec.Sequence)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], rec.Inode)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(rec.TimeNanos))
	off += 8
	copy(buf[off:off+payloadLen], rec.Payload)
	off += payloadLen

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], crc)

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.w.Write(buf)
	w.bytesWritten += int64(n)
	if err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: write record")
	}
	return nil
}

// Flush forces buffered records to stable storage via fsync. The engine
// calls this once per transaction commit, per spec.md §5's "the WAL record
// is flushed to stable storage; only then does the operation return
// success" contract.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: flush buffer")
	}
	if err := w.f.Sync(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: fsync")
	}
	return nil
}

// Size reports the current logical length of the WAL file, header
// included; the engine reports it as Stats.WALSizeBytes. Nothing compares
// it against cfg.WALConfig.SizeLimitBytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

// Truncate resets the WAL to an empty (header-only) file, called by the
// recovery/checkpoint path once a checkpoint has made every prior record
// unnecessary for replay.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.w.Flush(); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: flush before truncate")
	}
	if err := w.f.Truncate(fileHeaderBytes); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: truncate")
	}
	if _, err := w.f.Seek(fileHeaderBytes, io.SeekStart); err != nil {
		return errs.Wrapf(errs.ErrIO, err, "wal: seek after truncate")
	}
	w.w = bufio.NewWriter(w.f)
	w.bytesWritten = fileHeaderBytes
	logger.Debugf("wal: truncated %s to header-only", w.path)
	return nil
}

// Checkpoint appends a CHECKPOINT record, flushes it, then truncates the
// log back to its header, which discards that record along with every
// earlier one. A checkpoint implies every node/string arena
// state it covers has already been persisted to the shared region.
func (w *WAL) Checkpoint() error {
	if err := w.append(Record{Type: RecordCheckpoint, TimeNanos: time.Now().UnixNano()}); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return w.Truncate()
}

// Transaction frames one BEGIN..COMMIT span. Callers append sub-operation
// records with Append, then call Commit (durable success) or Abort
// (explicit, diagnosable rollback). A Transaction whose process crashes
// before Commit leaves a BEGIN with no COMMIT in the log, which recovery
// treats as an incomplete transaction to discard -- identical in effect to
// an explicit Abort, per spec.md §5.
type Transaction struct {
	w    *WAL
	id   uint64
	done bool
}

// Begin starts a new transaction, appending its BEGIN record.
func (w *WAL) Begin(inode uint64) (*Transaction, error) {
	id := w.NewTxID()
	tx := &Transaction{w: w, id: id}
	if err := w.append(Record{
		Type:      RecordBegin,
		TxID:      id,
		Inode:     inode,
		TimeNanos: time.Now().UnixNano(),
	}); err != nil {
		return nil, err
	}
	return tx, nil
}

// ID returns the transaction's id, embedded in every record the caller
// appends to it.
func (tx *Transaction) ID() uint64 { return tx.id }

// Append appends a sub-operation record tagged with this transaction's id.
func (tx *Transaction) Append(recordType RecordType, inode uint64, payload []byte) error {
	if tx.done {
		return errs.Wrap(errs.ErrInvalid, "wal: transaction already committed or aborted")
	}
	return tx.w.append(Record{
		Type:      recordType,
		TxID:      tx.id,
		Inode:     inode,
		TimeNanos: time.Now().UnixNano(),
		Payload:   payload,
	})
}

// Commit appends the COMMIT record and flushes it to stable storage. Only
// after Commit returns nil may the caller report the mutation as
// successful to its own caller.
func (tx *Transaction) Commit() error {
	if tx.done {
		return errs.Wrap(errs.ErrInvalid, "wal: transaction already committed or aborted")
	}
	if err := tx.w.append(Record{
		Type:      RecordCommit,
		TxID:      tx.id,
		TimeNanos: time.Now().UnixNano(),
	}); err != nil {
		return err
	}
	if err := tx.w.Flush(); err != nil {
		return err
	}
	tx.done = true
	return nil
}

// Abort appends an explicit ABORT record for this transaction. Recovery
// does not require it -- a BEGIN with no COMMIT is already treated as
// incomplete -- but it gives the log an honest record of a deliberate
// rollback rather than leaving it indistinguishable from a crash.
func (tx *Transaction) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if err := tx.w.append(Record{
		Type:      RecordAbort,
		TxID:      tx.id,
		TimeNanos: time.Now().UnixNano(),
	}); err != nil {
		return err
	}
	return tx.w.Flush()
}
