// Package walog implements the engine's append-only, memory-mapped log: a
// single growable file holding a fixed header followed by a sequence of
// length-prefixed, optionally compressed blocks of encoded samples.
//
// The mmap/open/grow machinery is grounded on the retrieval pack's
// slotcache example (syscall.Open/Ftruncate/Mmap/Munmap, grow-by-doubling,
// magic+version header validation, atomic rename-free in-place growth).
// Unlike slotcache's seqlock-based concurrent reader/writer protocol, this
// log uses a single mutex covering the mmap region, header fields, and
// write offset: the engine serializes all log access itself (§5 concurrency
// model), so there is no need for lock-free readers here.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package walog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

const (
	logMagic   uint32 = 0x42495354 // "BIST"
	logVersion uint32 = 1

	// headerSize is the fixed on-disk header layout:
	// magic(4) version(4) total_points(8) created_at(8) modified_at(8)
	// first_ts(8) last_ts(8) compression_enabled(1) compression_level(1)
	// reserved(2) checksum(8) = 60 bytes, padded to 64. header_size and
	// data_offset are fixed constants rather than persisted fields: the
	// layout never varies across versions of this log, so there is
	// nothing a stored header_size/data_offset would let a reader
	// recompute that the format version doesn't already fix.
	headerSize = 64

	// initialFileSize is the size of a freshly created log file.
	initialFileSize = 1 << 20 // 1 MiB

	offMagic              = 0
	offVersion            = 4
	offTotalPoints        = 8
	offCreatedAt          = 16
	offModifiedAt         = 24
	offFirstTS            = 32
	offLastTS             = 40
	offCompressionEnabled = 48
	offCompressionLevel   = 49
	offChecksum           = 52
)

// blockHeaderSize is the fixed per-block prefix:
// write_timestamp(8) point_count(8) compressed_size(4) uncompressed_size(4)
// is_compressed(1) checksum(8) = 33 bytes.
const blockHeaderSize = 33

// Block is one decoded unit of the log: a batch write with its block-level
// metadata.
type Block struct {
	WriteTimestamp   int64
	PointCount       int64
	CompressedSize   uint32
	UncompressedSize uint32
	IsCompressed     bool
	Payload          []byte // as stored: compressed if IsCompressed, else raw
}

// Log is a memory-mapped, append-only file of Blocks behind a single mutex.
type Log struct {
	mu sync.Mutex

	path string
	fd   *os.File
	data []byte // mmap'd region

	fileSize    int64
	dataOffset  int64 // headerSize; start of the block stream
	writeOffset int64 // first free byte, resolved by scanning on Open

	totalPoints        int64
	createdAt          int64
	modifiedAt         int64
	firstTS            int64
	lastTS             int64
	compressionEnabled bool
	compressionLevel   uint8
}

// Open opens or creates the log file at path, mmaps it, and resolves the
// true write offset by scanning the block stream from dataOffset: a
// reopened log never trusts a stored write_offset (none is stored), since a
// crash between a data write and a header update would leave it stale. The
// scan runs until it hits a decode failure or the end of valid data, which
// is taken as the true end of written blocks.
//
// compressionEnabled/compressionLevel are recorded in the header of a
// freshly created file; reopening an existing file always keeps the values
// already on disk, since they describe how the existing data was written,
// not how this particular Open call intends to write new data.
func Open(path string, now time.Time, compressionEnabled bool, compressionLevel int) (*Log, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}

	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("walog: stat %s: %w", path, err)
	}

	if info.Size() == 0 {
		if err := fd.Truncate(initialFileSize); err != nil {
			fd.Close()
			return nil, fmt.Errorf("walog: truncate %s: %w", path, err)
		}
		if err := writeHeader(fd, now, 0, now, 0, 0, compressionEnabled, uint8(compressionLevel)); err != nil {
			fd.Close()
			return nil, err
		}
		info, err = fd.Stat()
		if err != nil {
			fd.Close()
			return nil, fmt.Errorf("walog: stat %s: %w", path, err)
		}
	}

	data, err := syscall.Mmap(int(fd.Fd()), 0, int(info.Size()), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("walog: mmap %s: %w", path, err)
	}

	l := &Log{
		path:       path,
		fd:         fd,
		data:       data,
		fileSize:   info.Size(),
		dataOffset: headerSize,
	}

	if err := l.validateHeader(); err != nil {
		syscall.Munmap(data)
		fd.Close()
		return nil, err
	}

	l.writeOffset, l.totalPoints, err = l.scanForWriteOffset()
	if err != nil {
		syscall.Munmap(data)
		fd.Close()
		return nil, err
	}

	return l, nil
}

func writeHeader(fd *os.File, createdAt time.Time, totalPoints int64, modifiedAt time.Time, firstTS, lastTS int64, compressionEnabled bool, compressionLevel uint8) error {
	h := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(h[offMagic:], logMagic)
	binary.LittleEndian.PutUint32(h[offVersion:], logVersion)
	binary.LittleEndian.PutUint64(h[offTotalPoints:], uint64(totalPoints))
	binary.LittleEndian.PutUint64(h[offCreatedAt:], uint64(createdAt.UnixNano()))
	binary.LittleEndian.PutUint64(h[offModifiedAt:], uint64(modifiedAt.UnixNano()))
	binary.LittleEndian.PutUint64(h[offFirstTS:], uint64(firstTS))
	binary.LittleEndian.PutUint64(h[offLastTS:], uint64(lastTS))
	if compressionEnabled {
		h[offCompressionEnabled] = 1
	}
	h[offCompressionLevel] = compressionLevel
	binary.LittleEndian.PutUint64(h[offChecksum:], headerChecksum(totalPoints, createdAt.UnixNano(), modifiedAt.UnixNano(), firstTS, lastTS, compressionEnabled, compressionLevel))

	if _, err := fd.WriteAt(h, 0); err != nil {
		return fmt.Errorf("walog: write header: %w", err)
	}
	return nil
}

// headerChecksum is (magic + version + total_points + created_at +
// modified_at + first_ts + last_ts + compression_enabled + compression_level)
// mod 2^64, computed with wrapping (unsigned overflow) addition.
func headerChecksum(totalPoints, createdAt, modifiedAt, firstTS, lastTS int64, compressionEnabled bool, compressionLevel uint8) uint64 {
	var sum uint64
	sum += uint64(logMagic)
	sum += uint64(logVersion)
	sum += uint64(totalPoints)
	sum += uint64(createdAt)
	sum += uint64(modifiedAt)
	sum += uint64(firstTS)
	sum += uint64(lastTS)
	if compressionEnabled {
		sum++
	}
	sum += uint64(compressionLevel)
	return sum
}

func (l *Log) validateHeader() error {
	magic := binary.LittleEndian.Uint32(l.data[offMagic:])
	if magic != logMagic {
		return fmt.Errorf("walog: bad magic 0x%08x in %s", magic, l.path)
	}
	version := binary.LittleEndian.Uint32(l.data[offVersion:])
	if version != logVersion {
		return fmt.Errorf("walog: unsupported version %d in %s", version, l.path)
	}

	totalPoints := int64(binary.LittleEndian.Uint64(l.data[offTotalPoints:]))
	createdAt := int64(binary.LittleEndian.Uint64(l.data[offCreatedAt:]))
	modifiedAt := int64(binary.LittleEndian.Uint64(l.data[offModifiedAt:]))
	firstTS := int64(binary.LittleEndian.Uint64(l.data[offFirstTS:]))
	lastTS := int64(binary.LittleEndian.Uint64(l.data[offLastTS:]))
	compressionEnabled := l.data[offCompressionEnabled] != 0
	compressionLevel := l.data[offCompressionLevel]

	wantChecksum := binary.LittleEndian.Uint64(l.data[offChecksum:])
	if headerChecksum(totalPoints, createdAt, modifiedAt, firstTS, lastTS, compressionEnabled, compressionLevel) != wantChecksum {
		return fmt.Errorf("walog: header checksum mismatch in %s", l.path)
	}

	l.createdAt = createdAt
	l.modifiedAt = modifiedAt
	l.firstTS = firstTS
	l.lastTS = lastTS
	l.compressionEnabled = compressionEnabled
	l.compressionLevel = compressionLevel
	return nil
}

// scanForWriteOffset walks the block stream from dataOffset, validating
// each block's rolling-hash checksum, until it finds a block whose header
// doesn't decode (zeroed/corrupt tail) or runs past fileSize. It returns
// the offset just past the last valid block and the total point count
// recovered, which may be less than the header's total_points if the log
// was truncated by a crash mid-block.
func (l *Log) scanForWriteOffset() (int64, int64, error) {
	pos := l.dataOffset
	var points int64

	for pos+blockHeaderSize <= l.fileSize {
		hdr := l.data[pos : pos+blockHeaderSize]

		pointCount := int64(binary.LittleEndian.Uint64(hdr[8:16]))
		compressedSize := binary.LittleEndian.Uint32(hdr[16:20])

		if compressedSize == 0 && pointCount == 0 {
			// Unwritten tail: zeroed region past the last real block.
			break
		}

		blockEnd := pos + blockHeaderSize + int64(compressedSize)
		if blockEnd > l.fileSize {
			break
		}

		storedChecksum := binary.LittleEndian.Uint64(hdr[25:33])
		payload := l.data[pos+blockHeaderSize : blockEnd]
		if rollingHash(hdr[:25], payload) != storedChecksum {
			break
		}

		points += pointCount
		pos = blockEnd
	}

	return pos, points, nil
}

// rollingHash implements the log's block checksum: h <- h*31 + byte, seeded
// at 0 and folded over the block header (excluding the checksum field
// itself) followed by the payload.
func rollingHash(headerPrefix, payload []byte) uint64 {
	var h uint64
	for _, b := range headerPrefix {
		h = h*31 + uint64(b)
	}
	for _, b := range payload {
		h = h*31 + uint64(b)
	}
	return h
}

// Append writes one block to the log at the current write offset, growing
// the file (doubling: max(2*file_size, 2*required)) if it doesn't fit.
// minSampleTS/maxSampleTS are the batch's own sample-timestamp extremes,
// folded into the header's first_ts/last_ts so a reader never has to decode
// every block just to learn the covered time range.
func (l *Log) Append(writeTimestamp int64, pointCount int64, payload []byte, isCompressed bool, uncompressedSize uint32, minSampleTS, maxSampleTS int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	required := l.writeOffset + blockHeaderSize + int64(len(payload))
	if required > l.fileSize {
		if err := l.grow(required); err != nil {
			return err
		}
	}

	hdr := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(writeTimestamp))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(pointCount))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[20:24], uncompressedSize)
	if isCompressed {
		hdr[24] = 1
	}
	checksum := rollingHash(hdr[:25], payload)
	binary.LittleEndian.PutUint64(hdr[25:33], checksum)

	copy(l.data[l.writeOffset:], hdr)
	copy(l.data[l.writeOffset+blockHeaderSize:], payload)

	firstAppendEver := l.totalPoints == 0

	l.writeOffset += int64(len(hdr)) + int64(len(payload))
	l.totalPoints += pointCount
	l.modifiedAt = writeTimestamp

	if pointCount > 0 {
		if firstAppendEver || minSampleTS < l.firstTS {
			l.firstTS = minSampleTS
		}
		if maxSampleTS > l.lastTS {
			l.lastTS = maxSampleTS
		}
	}

	binary.LittleEndian.PutUint64(l.data[offTotalPoints:], uint64(l.totalPoints))
	binary.LittleEndian.PutUint64(l.data[offModifiedAt:], uint64(l.modifiedAt))
	binary.LittleEndian.PutUint64(l.data[offFirstTS:], uint64(l.firstTS))
	binary.LittleEndian.PutUint64(l.data[offLastTS:], uint64(l.lastTS))
	binary.LittleEndian.PutUint64(l.data[offChecksum:], headerChecksum(l.totalPoints, l.createdAt, l.modifiedAt, l.firstTS, l.lastTS, l.compressionEnabled, l.compressionLevel))

	return nil
}

// grow doubles the file (at least to required) and remaps it. Must be
// called with l.mu held.
func (l *Log) grow(required int64) error {
	newSize := l.fileSize * 2
	if newSize < required*2 {
		newSize = required * 2
	}

	if err := syscall.Munmap(l.data); err != nil {
		return fmt.Errorf("walog: unmap for growth: %w", err)
	}
	if err := l.fd.Truncate(newSize); err != nil {
		return fmt.Errorf("walog: grow truncate: %w", err)
	}

	data, err := syscall.Mmap(int(l.fd.Fd()), 0, int(newSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("walog: remap after growth: %w", err)
	}

	l.data = data
	l.fileSize = newSize
	return nil
}

// Scan reads every valid block from dataOffset up to the current write
// offset, in log order, for recovery on engine startup.
func (l *Log) Scan() ([]Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var blocks []Block
	pos := l.dataOffset
	for pos < l.writeOffset {
		hdr := l.data[pos : pos+blockHeaderSize]
		writeTS := int64(binary.LittleEndian.Uint64(hdr[0:8]))
		pointCount := int64(binary.LittleEndian.Uint64(hdr[8:16]))
		compressedSize := binary.LittleEndian.Uint32(hdr[16:20])
		uncompressedSize := binary.LittleEndian.Uint32(hdr[20:24])
		isCompressed := hdr[24] != 0

		blockEnd := pos + blockHeaderSize + int64(compressedSize)
		payload := make([]byte, compressedSize)
		copy(payload, l.data[pos+blockHeaderSize:blockEnd])

		blocks = append(blocks, Block{
			WriteTimestamp:   writeTS,
			PointCount:       pointCount,
			CompressedSize:   compressedSize,
			UncompressedSize: uncompressedSize,
			IsCompressed:     isCompressed,
			Payload:          payload,
		})
		pos = blockEnd
	}
	return blocks, nil
}

// Flush forces the mmap'd region to durable storage via msync.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msync()
}

// msFlush is Linux's MS_SYNC: block until the write completes.
const msFlush = 4

func (l *Log) msync() error {
	if len(l.data) == 0 {
		return nil
	}
	_, _, errno := syscall.Syscall(
		syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&l.data[0])),
		uintptr(len(l.data)),
		uintptr(msFlush),
	)
	if errno != 0 {
		return fmt.Errorf("walog: msync: %w", errno)
	}
	return nil
}

// TotalPoints returns the number of points across all valid blocks: the
// count recovered by the block scan on Open plus every point appended since.
// The header's stored total_points is not used on Open.
func (l *Log) TotalPoints() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalPoints
}

// WriteOffset returns the current end-of-data offset (for tests/inspection).
func (l *Log) WriteOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeOffset
}

// FileSize returns the current size of the underlying mmap'd file, for the
// engine's stats rollup.
func (l *Log) FileSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileSize
}

// DataSize returns the number of bytes actually used by the block stream
// (writeOffset - dataOffset), as distinct from FileSize which includes
// unused pre-allocated space.
func (l *Log) DataSize() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeOffset - l.dataOffset
}

// CreatedAt returns the header's created_at timestamp (UnixNano).
func (l *Log) CreatedAt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createdAt
}

// ModifiedAt returns the header's modified_at timestamp (UnixNano) of the
// most recent Append.
func (l *Log) ModifiedAt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.modifiedAt
}

// FirstTimestamp returns the smallest sample timestamp recorded across all
// appended batches.
func (l *Log) FirstTimestamp() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstTS
}

// LastTimestamp returns the largest sample timestamp recorded across all
// appended batches.
func (l *Log) LastTimestamp() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTS
}

// CompressionEnabled returns whether the log was created with compression
// turned on.
func (l *Log) CompressionEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compressionEnabled
}

// CompressionLevel returns the zstd level recorded at log creation.
func (l *Log) CompressionLevel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.compressionLevel)
}

// Close flushes, unmaps, and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.msync(); err != nil {
		return err
	}
	if err := syscall.Munmap(l.data); err != nil {
		return fmt.Errorf("walog: munmap on close: %w", err)
	}
	if err := l.fd.Close(); err != nil {
		return fmt.Errorf("walog: close file: %w", err)
	}
	return nil
}
