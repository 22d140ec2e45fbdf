package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/razorfs/razorfs/internal/errs"
)

// ScanResult is the outcome of a sequential scan over a WAL file.
type ScanResult struct {
	// Records are every record that passed framing and CRC validation, in
	// file order.
	Records []Record
	// Truncated is true if the scan stopped early because the tail of the
	// file failed CRC or framing validation -- the expected shape of a
	// torn write after a crash mid-append, per spec.md §5's "partially
	// written record at the tail is detected via CRC mismatch and
	// discarded" contract. It is not itself an error.
	Truncated bool
}

// Scan reads path sequentially, validating the file header and then every
// record's framing and CRC. It never returns an error for a record that
// fails validation: a short read, a bad record magic, or a CRC mismatch
// stops the scan and reports ScanResult.Truncated, wherever in the file it
// occurs. An error is reserved for an unreadable file or a bad
// file-header magic/version.
func Scan(path string) (ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ScanResult{}, nil
		}
		return ScanResult{}, errs.Wrapf(errs.ErrIO, err, "wal: open for scan")
	}
	defer f.Close()

	var hdr [fileHeaderBytes]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ScanResult{}, nil
		}
		return ScanResult{}, errs.Wrapf(errs.ErrIO, err, "wal: read file header")
	}
	if hdr[0] != fileMagic[0] || hdr[1] != fileMagic[1] || hdr[2] != fileMagic[2] || hdr[3] != fileMagic[3] {
		return ScanResult{}, errs.Wrap(errs.ErrCorrupt, "wal: bad file magic")
	}
	if binary.LittleEndian.Uint16(hdr[4:6]) != fileMajorVersion {
		return ScanResult{}, errs.Wrap(errs.ErrVersion, "wal: incompatible major version")
	}

	var result ScanResult
	for {
		rec, status, err := readOneRecord(f)
		if err != nil {
			return ScanResult{}, err
		}
		switch status {
		case statusOK:
			result.Records = append(result.Records, rec)
		case statusCleanEOF:
			return result, nil
		case statusTornTail:
			result.Truncated = true
			return result, nil
		}
	}
}

type recordStatus int

const (
	statusOK recordStatus = iota
	// statusCleanEOF means the file ended exactly on a record boundary --
	// the normal end of a well-formed log.
	statusCleanEOF
	// statusTornTail means a record started but could not be fully read or
	// failed its CRC -- the expected shape of a write that was in flight
	// when the process crashed.
	statusTornTail
)

// readOneRecord reads and validates one record starting at f's current
// offset.
func readOneRecord(f *os.File) (Record, recordStatus, error) {
	fixed := make([]byte, recordFixedBytes)
	n, err := io.ReadFull(f, fixed)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Record{}, statusCleanEOF, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, statusTornTail, nil
		}
		return Record{}, statusOK, errs.Wrapf(errs.ErrIO, err, "wal: read record header")
	}

	if fixed[0] != recordMagic[0] || fixed[1] != recordMagic[1] || fixed[2] != recordMagic[2] || fixed[3] != recordMagic[3] {
		return Record{}, statusTornTail, nil
	}

	recType := RecordType(fixed[4])
	payloadLen := binary.LittleEndian.Uint16(fixed[6:8])
	txID := binary.LittleEndian.Uint64(fixed[8:16])
	seq := binary.LittleEndian.Uint64(fixed[16:24])
	inode := binary.LittleEndian.Uint64(fixed[24:32])
	timeNanos := int64(binary.LittleEndian.Uint64(fixed[32:40]))

	rest := make([]byte, int(payloadLen)+crcBytes)
	if _, err := io.ReadFull(f, rest); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, statusTornTail, nil
		}
		return Record{}, statusOK, errs.Wrapf(errs.ErrIO, err, "wal: read record payload")
	}

	payload := rest[:payloadLen]
	wantCRC := binary.LittleEndian.Uint32(rest[payloadLen:])

	whole := make([]byte, 0, recordFixedBytes+int(payloadLen))
	whole = append(whole, fixed...)
	whole = append(whole, payload...)
	gotCRC := crc32.ChecksumIEEE(whole)
	if gotCRC != wantCRC {
		return Record{}, statusTornTail, nil
	}

	return Record{
		Type:      recType,
		TxID:      txID,
		Sequence:  seq,
		Inode:     inode,
		TimeNanos: timeNanos,
		Payload:   append([]byte(nil), payload...),
	}, statusOK, nil
}
