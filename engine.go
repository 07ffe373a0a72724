// engine.go: Engine façade wiring the ring buffer, combined index, and
// optional persistent log into the public strata API.
//
// Lifecycle (Open/Close, the closed-flag guard, idempotent Close) is
// grounded on the donor logging library's Logger management methods
// (management.go): an atomic closed flag checked at the top of every
// shutdown-sensitive method, with Close() signaling a background goroutine
// and waiting for it to exit via a done channel.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/strata/internal/bufferpool"
	"github.com/agilira/strata/internal/codec"
	"github.com/agilira/strata/internal/model"
	"github.com/agilira/strata/internal/query"
	"github.com/agilira/strata/internal/ring"
	"github.com/agilira/strata/internal/tsindex"
	"github.com/agilira/strata/internal/walog"
)

// Engine is the embedded time-series storage engine: a bounded ring buffer
// of recent samples backed by a dual time/tag index, with an optional
// memory-mapped append-only log for durability.
type Engine struct {
	config *Config

	buf *ring.Buffer
	idx *tsindex.Combined
	log *walog.Log

	closed int32 // atomic

	flusherDone   chan struct{}
	flusherCancel chan struct{}

	lastWriteMicros int64 // atomic
	lastQueryMicros int64 // atomic
	lastFlushNanos  int64 // atomic; UnixNano of the last successful Flush

	mu sync.Mutex // serializes Write/WriteBatch against the log and Close
}

// Snapshot is a point-in-time rollup of the engine's internal counters:
// ring stats, index stats, log stats, and write/query latency counters,
// mirroring the original engine's EngineStats rollup.
type Snapshot struct {
	// Ring buffer stats.
	RingSize        int
	RingCapacity    int
	RingMemoryBytes int64
	TotalWritten    int64
	TotalEvicted    int64

	// FirstTimestamp/LastTimestamp are the oldest/newest sample currently
	// held in the ring buffer; both zero if the ring is empty.
	FirstTimestamp int64
	LastTimestamp  int64

	// Index stats.
	IndexedSamples   int
	IndexUniqueTimes int
	IndexTagKeys     int
	IndexMemoryBytes int64

	// Log stats; zero unless PersistenceOn.
	LogTotalPoints int64
	LogWriteOffset int64
	LogFileBytes   int64
	LogDataBytes   int64
	LastFlush      time.Time

	PersistenceOn bool
	CompressionOn bool

	// LastWriteMicros/LastQueryMicros are the wall-clock duration of the
	// most recent Write/WriteBatch and Query/QueryRange call, in
	// microseconds. Zero until the corresponding operation has run once.
	LastWriteMicros int64
	LastQueryMicros int64

	// BufferPool is a snapshot of the codec's scratch-buffer pool
	// (internal/bufferpool), exposed so operators can see whether encode
	// scratch space is being recycled or dropped for oversized capacity.
	BufferPool bufferpool.Stats
}

// Open validates config, applies defaults, and constructs a ready-to-use
// Engine. If config.EnablePersistence is set, the on-disk log is opened
// (created if absent) and its recoverable blocks are replayed into the ring
// buffer and index before Open returns.
func Open(config *Config) (eng *Engine, err error) {
	defer func() {
		if rec := RecoverWithError(ErrCodeConfiguration); rec != nil {
			err = rec
		}
	}()

	if config == nil {
		return nil, NewEngineError(ErrCodeConfiguration, "config must not be nil")
	}
	cfg := config.withDefaults()
	if verr := cfg.Validate(); verr != nil {
		return nil, verr
	}

	e := &Engine{
		config: cfg,
		idx:    tsindex.New(),
	}
	e.buf = ring.New(cfg.Capacity, time.Duration(cfg.TTLSeconds)*time.Second, clockAdapter{cfg.Clock})

	if cfg.EnablePersistence {
		l, lerr := walog.Open(cfg.StoragePath, cfg.Clock.Now(), cfg.EnableCompression, cfg.CompressionLevel)
		if lerr != nil {
			return nil, WrapEngineError(lerr, ErrCodePersistence, "opening log")
		}
		e.log = l

		if rerr := e.replay(); rerr != nil {
			l.Close()
			return nil, rerr
		}

		e.flusherDone = make(chan struct{})
		e.flusherCancel = make(chan struct{})
		go e.runFlusher()
	}

	return e, nil
}

// clockAdapter satisfies ring.Clock using the root Clock interface.
type clockAdapter struct{ c Clock }

func (a clockAdapter) Now() time.Time { return a.c.Now() }

func (e *Engine) replay() error {
	blocks, err := e.log.Scan()
	if err != nil {
		return WrapEngineError(err, ErrCodePersistence, "scanning log")
	}
	for _, b := range blocks {
		raw := b.Payload
		if b.IsCompressed {
			raw, err = codec.Decompress(b.Payload)
			if err != nil {
				return WrapEngineError(err, ErrCodeCompression, "decompressing recovered block")
			}
		}
		samples, derr := codec.DecodeBatch(raw)
		if derr != nil {
			return WrapEngineError(derr, ErrCodeSerialization, "decoding recovered block")
		}
		for _, s := range samples {
			e.ingest(s)
		}
	}
	return nil
}

// ingest applies a sample to the ring buffer and index without touching the
// log; used both by Write (after a successful log append) and by replay.
func (e *Engine) ingest(s model.Sample) {
	e.buf.Push(ring.Sample{Timestamp: s.Timestamp, SizeBytes: s.SizeBytes(), Payload: s})
	e.idx.Add(s)
}

// Write appends one sample. If persistence is enabled, the sample is
// synchronously appended to the log (encoded, optionally compressed) before
// being applied to the in-memory structures, so a successful Write always
// implies durability has at least been attempted for that sample.
func (e *Engine) Write(s Sample) (err error) {
	start := e.config.Clock.Now()
	defer func() {
		if rec := RecoverWithError(ErrCodeConfiguration); rec != nil {
			err = rec
		}
		atomic.StoreInt64(&e.lastWriteMicros, e.config.Clock.Now().Sub(start).Microseconds())
	}()

	if atomic.LoadInt32(&e.closed) != 0 {
		return NewEngineError(ErrCodeConfiguration, "engine is closed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.log != nil {
		if werr := e.appendToLog([]model.Sample{s}); werr != nil {
			return werr
		}
	}

	e.ingest(s)
	return nil
}

// WriteBatch appends multiple samples as a single log block when
// persistence is enabled (one encode/compress/append cycle for the whole
// batch), then applies each to the in-memory structures.
func (e *Engine) WriteBatch(samples []Sample) (err error) {
	start := e.config.Clock.Now()
	defer func() {
		if rec := RecoverWithError(ErrCodeConfiguration); rec != nil {
			err = rec
		}
		atomic.StoreInt64(&e.lastWriteMicros, e.config.Clock.Now().Sub(start).Microseconds())
	}()

	if atomic.LoadInt32(&e.closed) != 0 {
		return NewEngineError(ErrCodeConfiguration, "engine is closed")
	}
	if len(samples) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.log != nil {
		if werr := e.appendToLog(samples); werr != nil {
			return werr
		}
	}

	for _, s := range samples {
		e.ingest(s)
	}
	return nil
}

// appendToLog encodes samples, applies adaptive compression per the
// configured level, and appends the resulting block to the log. Must be
// called with e.mu held.
func (e *Engine) appendToLog(samples []model.Sample) error {
	raw := codec.EncodeBatch(samples)

	payload := raw
	isCompressed := false
	if e.config.EnableCompression {
		compressed, ok, cerr := codec.Compress(raw, e.config.CompressionLevel)
		if cerr != nil {
			return WrapEngineError(cerr, ErrCodeCompression, "compressing block")
		}
		if ok {
			payload = compressed
			isCompressed = true
		}
	}

	minTS, maxTS := sampleTimestampRange(samples)

	now := e.config.Clock.Now().UnixNano()
	if err := e.log.Append(now, int64(len(samples)), payload, isCompressed, uint32(len(raw)), minTS, maxTS); err != nil {
		return WrapEngineError(err, ErrCodePersistence, "appending block")
	}
	return nil
}

// sampleTimestampRange returns the min and max Timestamp across samples.
func sampleTimestampRange(samples []model.Sample) (min, max int64) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0].Timestamp, samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp < min {
			min = s.Timestamp
		}
		if s.Timestamp > max {
			max = s.Timestamp
		}
	}
	return min, max
}

// QueryRange returns samples with Timestamp in [lo, hi], ordered ascending
// by timestamp.
func (e *Engine) QueryRange(lo, hi int64) ([]Sample, error) {
	start := e.config.Clock.Now()
	defer func() {
		atomic.StoreInt64(&e.lastQueryMicros, e.config.Clock.Now().Sub(start).Microseconds())
	}()

	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, NewEngineError(ErrCodeConfiguration, "engine is closed")
	}
	return e.idx.QueryTime(lo, hi), nil
}

// QuerySpec is the public query description, re-exporting internal/query's
// Spec so callers never import an internal package.
type QuerySpec = query.Spec

// TagPredicate is a public alias for the tag equality predicate used in
// queries.
type TagPredicate = tsindex.TagPredicate

// Aggregation re-exports the internal query package's aggregation enum.
type Aggregation = query.Aggregation

const (
	AggNone    = query.AggNone
	AggCount   = query.AggCount
	AggFirst   = query.AggFirst
	AggLast    = query.AggLast
	AggMin     = query.AggMin
	AggMax     = query.AggMax
	AggSum     = query.AggSum
	AggAverage = query.AggAverage
)

// QueryResult is the public alias for a query's outcome.
type QueryResult = query.Result

// Query executes spec against the engine's combined index via the query
// planner/executor.
func (e *Engine) Query(spec QuerySpec) (QueryResult, error) {
	start := e.config.Clock.Now()
	defer func() {
		atomic.StoreInt64(&e.lastQueryMicros, e.config.Clock.Now().Sub(start).Microseconds())
	}()

	if atomic.LoadInt32(&e.closed) != 0 {
		return QueryResult{}, NewEngineError(ErrCodeConfiguration, "engine is closed")
	}
	return query.Execute(e.idx, spec), nil
}

// GetLatest returns the n most recently written samples, in insertion
// order.
func (e *Engine) GetLatest(n int) ([]Sample, error) {
	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, NewEngineError(ErrCodeConfiguration, "engine is closed")
	}
	return e.idx.GetLatest(n), nil
}

// Flush forces a durability flush of the log's mmap region, if persistence
// is enabled. A no-op otherwise.
func (e *Engine) Flush() error {
	if e.log == nil {
		return nil
	}
	if err := e.log.Flush(); err != nil {
		return WrapEngineError(err, ErrCodePersistence, "flushing log")
	}
	atomic.StoreInt64(&e.lastFlushNanos, e.config.Clock.Now().UnixNano())
	return nil
}

// runFlusher periodically forces a durability flush. It does not take e.mu;
// Write/WriteBatch append to the log themselves, one block per call, and
// only wait on the log's own mutex while a flush is in progress.
func (e *Engine) runFlusher() {
	defer close(e.flusherDone)

	interval := time.Duration(e.config.FlushIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = e.Flush()
		case <-e.flusherCancel:
			return
		}
	}
}

// Stats returns a snapshot of the engine's internal counters: ring, index,
// log, and latency stats.
func (e *Engine) Stats() Snapshot {
	rs := e.buf.Stats()
	is := e.idx.Stats()

	s := Snapshot{
		RingSize:        rs.Size,
		RingCapacity:    rs.Capacity,
		RingMemoryBytes: rs.MemoryBytes,
		TotalWritten:    rs.TotalWritten,
		TotalEvicted:    rs.TotalEvicted,

		IndexedSamples:   e.idx.Len(),
		IndexUniqueTimes: is.UniqueTimestamps,
		IndexTagKeys:     is.TagKeys,
		IndexMemoryBytes: is.MemoryBytes,

		PersistenceOn: e.log != nil,
		CompressionOn: e.config.EnableCompression,

		LastWriteMicros: atomic.LoadInt64(&e.lastWriteMicros),
		LastQueryMicros: atomic.LoadInt64(&e.lastQueryMicros),

		BufferPool: bufferpool.GetStats(),
	}
	if rs.HasSamples {
		s.FirstTimestamp = rs.OldestTS
		s.LastTimestamp = rs.NewestTS
	}
	if e.log != nil {
		s.LogTotalPoints = e.log.TotalPoints()
		s.LogWriteOffset = e.log.WriteOffset()
		s.LogFileBytes = e.log.FileSize()
		s.LogDataBytes = e.log.DataSize()
		if nanos := atomic.LoadInt64(&e.lastFlushNanos); nanos != 0 {
			s.LastFlush = time.Unix(0, nanos)
		}
	}
	return s
}

// Close idempotently shuts down the engine: stops the background flusher
// (if running), performs a final flush, and closes the log.
func (e *Engine) Close() (err error) {
	defer func() {
		if rec := RecoverWithError(ErrCodeConfiguration); rec != nil {
			err = rec
		}
	}()

	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	if e.log == nil {
		return nil
	}

	close(e.flusherCancel)
	<-e.flusherDone

	if ferr := e.log.Flush(); ferr != nil {
		return WrapEngineError(ferr, ErrCodePersistence, "final flush on close")
	}
	atomic.StoreInt64(&e.lastFlushNanos, e.config.Clock.Now().UnixNano())
	if cerr := e.log.Close(); cerr != nil {
		return WrapEngineError(cerr, ErrCodePersistence, "closing log")
	}
	return nil
}
