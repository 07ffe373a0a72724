// Package query implements the engine's query planner and executor: given
// a QuerySpec describing a time range, optional tag predicates, an
// aggregation, and an optional grouping interval, it selects a query plan
// over a tsindex.Combined index and produces a Result.
//
// The time-bucketed grouping is grounded on the retrieval pack's trace
// stats concentrator (DataDog agent): floor-division bucket keys
// (alignTs(ts, bucketSize)) accumulated in a map, emitted in ascending
// order on flush. Aggregation-without-grouping follows the same
// floor-division idea degenerated to a single bucket.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package query

import (
	"sort"

	"github.com/agilira/strata/internal/model"
	"github.com/agilira/strata/internal/tsindex"
)

// Aggregation identifies which reduction to apply to a set of samples.
type Aggregation uint8

const (
	AggNone Aggregation = iota
	AggCount
	AggFirst
	AggLast
	AggMin
	AggMax
	AggSum
	AggAverage
)

// Spec describes one query against the combined index.
type Spec struct {
	Lo, Hi      int64
	Tags        []tsindex.TagPredicate
	MatchAll    bool // AND when true, OR when false; ignored if Tags is empty
	Aggregation Aggregation

	// GroupByIntervalNanos, if > 0, buckets matching samples into
	// floor-division windows of this width and aggregates each bucket
	// independently, instead of aggregating the whole result set at once.
	GroupByIntervalNanos int64

	// Limit caps the number of raw samples returned. Only applied when
	// Aggregation is AggNone; ignored for aggregated/grouped results.
	Limit int
}

// Point is one (possibly bucketed) aggregation result.
type Point struct {
	// BucketStart/BucketEnd are the floor-divided bucket bounds
	// [BucketStart, BucketEnd] when grouping is in effect; both zero
	// otherwise. BucketEnd is BucketStart + interval - 1.
	BucketStart int64
	BucketEnd   int64
	Value       float64

	// SampleValue carries the original Value for AggFirst/AggLast, so a
	// First/Last over a non-numeric sample (string/bytes) is preserved
	// rather than silently dropped. Zero value for every other
	// aggregation.
	SampleValue model.Value

	Count int
}

// Result is the outcome of executing a Spec: either raw samples (when
// Aggregation is AggNone) or a series of aggregated Points.
type Result struct {
	Samples []model.Sample
	Points  []Point
}

// alignBucket floor-divides ts into a bucket start at the given interval.
// Grounded on the retrieval pack's stats concentrator alignTs helper.
func alignBucket(ts, interval int64) int64 {
	if ts >= 0 {
		return (ts / interval) * interval
	}
	// Floor toward negative infinity for negative timestamps.
	q := ts / interval
	if ts%interval != 0 {
		q--
	}
	return q * interval
}

// Execute selects and runs a plan for spec against idx.
//
// Plan selection:
//   - Tags empty, no aggregation: QueryTime, then Limit.
//   - Tags present, no aggregation: QueryCombined, then Limit.
//   - Any case with Aggregation != AggNone and no GroupBy: gather matching
//     samples, reduce to a single Point.
//   - GroupByIntervalNanos > 0: gather matching samples, bucket, reduce
//     each bucket to a Point, emit buckets in ascending order, omitting
//     empty buckets.
func Execute(idx *tsindex.Combined, spec Spec) Result {
	var matched []model.Sample
	if len(spec.Tags) == 0 {
		matched = idx.QueryTime(spec.Lo, spec.Hi)
	} else {
		matched = idx.QueryCombined(spec.Lo, spec.Hi, spec.Tags, spec.MatchAll)
	}

	if spec.Aggregation == AggNone {
		if spec.Limit > 0 && spec.Limit < len(matched) {
			matched = matched[:spec.Limit]
		}
		return Result{Samples: matched}
	}

	if spec.GroupByIntervalNanos <= 0 {
		return Result{Points: []Point{reduce(matched, spec.Aggregation, 0, 0)}}
	}

	buckets := make(map[int64][]model.Sample)
	for _, s := range matched {
		b := alignBucket(s.Timestamp, spec.GroupByIntervalNanos)
		buckets[b] = append(buckets[b], s)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	points := make([]Point, 0, len(keys))
	for _, k := range keys {
		p := reduce(buckets[k], spec.Aggregation, k, k+spec.GroupByIntervalNanos-1)
		points = append(points, p)
	}
	return Result{Points: points}
}

// reduce applies agg to samples. AggFirst/AggLast preserve the original
// Value (any kind, not just numeric) in SampleValue, since samples arrive
// already ordered ascending by timestamp; every other aggregation projects
// numeric values via Value.AsFloat64, skipping samples that aren't numeric
// (except AggCount, which counts all samples regardless of kind).
func reduce(samples []model.Sample, agg Aggregation, bucketStart, bucketEnd int64) Point {
	p := Point{BucketStart: bucketStart, BucketEnd: bucketEnd, Count: len(samples)}

	if agg == AggCount {
		p.Value = float64(len(samples))
		return p
	}
	if len(samples) == 0 {
		return p
	}

	switch agg {
	case AggFirst:
		p.SampleValue = samples[0].Value
		if v, ok := p.SampleValue.AsFloat64(); ok {
			p.Value = v
		}
		return p
	case AggLast:
		p.SampleValue = samples[len(samples)-1].Value
		if v, ok := p.SampleValue.AsFloat64(); ok {
			p.Value = v
		}
		return p
	}

	var (
		sum        float64
		count      int
		min, max   float64
		haveMinMax bool
	)

	for _, s := range samples {
		v, ok := s.Value.AsFloat64()
		if !ok {
			continue
		}
		if !haveMinMax {
			min, max = v, v
			haveMinMax = true
		} else {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		sum += v
		count++
	}

	p.Count = count
	switch agg {
	case AggMin:
		p.Value = min
	case AggMax:
		p.Value = max
	case AggSum:
		p.Value = sum
	case AggAverage:
		if count > 0 {
			p.Value = sum / float64(count)
		}
	}
	return p
}
