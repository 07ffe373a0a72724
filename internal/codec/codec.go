// Package codec implements the engine's on-disk sample encoding: a compact
// binary wire format for a batch of samples, with adaptive zstd compression
// for blocks that are large enough and compressible enough to benefit.
//
// The wire format is grounded on the donor logging library's binary record
// encoder (encoder-binary.go): a magic/version header, varint-encoded
// lengths, zigzag varints for signed integers, and type-tagged fields. The
// compression layer uses github.com/klauspost/compress/zstd, the same
// library demonstrated by the MinIO cache example in the retrieval pack.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/agilira/strata/internal/bufferpool"
	"github.com/agilira/strata/internal/model"
)

// Wire format constants for a sample batch.
const (
	batchMagic   = 0x5354 // "ST" in ASCII
	batchVersion = 0x01
)

// Field type identifiers, mirroring the donor's type-tagged field encoding
// but narrowed to the engine's closed Value union.
const (
	typeInt64   = 0x01
	typeFloat64 = 0x02
	typeBool    = 0x03
	typeString  = 0x04
	typeBytes   = 0x05
)

// MinCompressThreshold is the smallest raw-encoded size, in bytes, worth
// attempting compression on. Blocks below this are always stored raw: zstd's
// frame overhead makes compression counterproductive on tiny batches.
const MinCompressThreshold = 1024

// MinCompressRatio is the largest compressed/raw size ratio that is still
// considered worthwhile. If compression does not shrink the block to at
// least this fraction of its raw size, the raw encoding is kept instead.
const MinCompressRatio = 0.8

// EncodeBatch serializes samples into the canonical binary wire format:
// [MAGIC(2)][VERSION(1)][COUNT(varint)][SAMPLE...]*
//
// Each sample is:
// [TIMESTAMP(zigzag varint)][KIND(1)][VALUE][TAG_COUNT(varint)][TAG...]*
// and each tag is a pair of length-prefixed strings.
func EncodeBatch(samples []model.Sample) []byte {
	buf := bufferpool.Get()
	defer bufferpool.Put(buf)

	magicBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(magicBytes, batchMagic)
	buf.Write(magicBytes)
	buf.WriteByte(batchVersion)

	writeVarint(buf, uint64(len(samples)))
	for i := range samples {
		encodeSample(buf, &samples[i])
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// DecodeBatch parses a byte slice produced by EncodeBatch.
func DecodeBatch(data []byte) ([]model.Sample, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("codec: batch too short: %d bytes", len(data))
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	version := data[2]
	if magic != batchMagic {
		return nil, fmt.Errorf("codec: bad magic 0x%04x", magic)
	}
	if version != batchVersion {
		return nil, fmt.Errorf("codec: unsupported version 0x%02x", version)
	}

	pos := 3
	count, n, err := readVarint(data, pos)
	if err != nil {
		return nil, fmt.Errorf("codec: reading sample count: %w", err)
	}
	pos = n

	samples := make([]model.Sample, 0, count)
	for i := uint64(0); i < count; i++ {
		s, next, err := decodeSample(data, pos)
		if err != nil {
			return nil, fmt.Errorf("codec: decoding sample %d: %w", i, err)
		}
		samples = append(samples, s)
		pos = next
	}
	return samples, nil
}

func encodeSample(buf *bytes.Buffer, s *model.Sample) {
	writeSignedVarint(buf, s.Timestamp)
	buf.WriteByte(valueType(s.Value.Kind))
	encodeValue(buf, s.Value)

	writeVarint(buf, uint64(len(s.Tags)))
	for _, k := range s.Tags.Keys() {
		writeString(buf, k)
		writeString(buf, s.Tags[k])
	}
}

func decodeSample(data []byte, pos int) (model.Sample, int, error) {
	ts, pos, err := readSignedVarint(data, pos)
	if err != nil {
		return model.Sample{}, pos, fmt.Errorf("timestamp: %w", err)
	}
	if pos >= len(data) {
		return model.Sample{}, pos, io.ErrUnexpectedEOF
	}
	kind := data[pos]
	pos++

	val, pos, err := decodeValue(data, pos, kind)
	if err != nil {
		return model.Sample{}, pos, fmt.Errorf("value: %w", err)
	}

	tagCount, pos, err := readVarint(data, pos)
	if err != nil {
		return model.Sample{}, pos, fmt.Errorf("tag count: %w", err)
	}

	var tags model.Tags
	if tagCount > 0 {
		tags = make(model.Tags, tagCount)
		for i := uint64(0); i < tagCount; i++ {
			var k, v string
			k, pos, err = readString(data, pos)
			if err != nil {
				return model.Sample{}, pos, fmt.Errorf("tag key: %w", err)
			}
			v, pos, err = readString(data, pos)
			if err != nil {
				return model.Sample{}, pos, fmt.Errorf("tag value: %w", err)
			}
			tags[k] = v
		}
	}

	return model.Sample{Timestamp: ts, Value: val, Tags: tags}, pos, nil
}

func valueType(k model.ValueKind) byte {
	switch k {
	case model.KindInt64:
		return typeInt64
	case model.KindFloat64:
		return typeFloat64
	case model.KindBool:
		return typeBool
	case model.KindString:
		return typeString
	case model.KindBytes:
		return typeBytes
	default:
		return typeInt64
	}
}

func encodeValue(buf *bytes.Buffer, v model.Value) {
	switch v.Kind {
	case model.KindInt64:
		writeSignedVarint(buf, v.Int)
	case model.KindFloat64:
		_ = binary.Write(buf, binary.LittleEndian, v.Float)
	case model.KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case model.KindString:
		writeString(buf, v.Str)
	case model.KindBytes:
		writeBytes(buf, v.Bytes)
	}
}

func decodeValue(data []byte, pos int, kind byte) (model.Value, int, error) {
	switch kind {
	case typeInt64:
		i, pos, err := readSignedVarint(data, pos)
		return model.IntValue(i), pos, err
	case typeFloat64:
		if pos+8 > len(data) {
			return model.Value{}, pos, io.ErrUnexpectedEOF
		}
		bits := binary.LittleEndian.Uint64(data[pos : pos+8])
		return model.FloatValue(math.Float64frombits(bits)), pos + 8, nil
	case typeBool:
		if pos >= len(data) {
			return model.Value{}, pos, io.ErrUnexpectedEOF
		}
		return model.BoolValue(data[pos] != 0), pos + 1, nil
	case typeString:
		s, pos, err := readString(data, pos)
		return model.StringValue(s), pos, err
	case typeBytes:
		b, pos, err := readBytes(data, pos)
		return model.BytesValue(b), pos, err
	default:
		return model.Value{}, pos, fmt.Errorf("unknown value type 0x%02x", kind)
	}
}

// Compress applies adaptive zstd compression per the engine's block policy:
// blocks under MinCompressThreshold, or that don't compress to at least
// MinCompressRatio of their raw size, are returned unchanged with ok=false
// so the caller stores the raw bytes instead.
func Compress(raw []byte, level int) (compressed []byte, ok bool, err error) {
	if len(raw) < MinCompressThreshold {
		return raw, false, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, false, fmt.Errorf("codec: creating zstd encoder: %w", err)
	}
	defer enc.Close()

	out := enc.EncodeAll(raw, make([]byte, 0, len(raw)))
	ratio := float64(len(out)) / float64(len(raw))
	if ratio > MinCompressRatio {
		return raw, false, nil
	}
	return out, true, nil
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: creating zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decompressing block: %w", err)
	}
	return out, nil
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func writeSignedVarint(buf *bytes.Buffer, v int64) {
	uv := uint64((v << 1) ^ (v >> 63))
	writeVarint(buf, uv)
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func readVarint(data []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	for pos < len(data) {
		b := data[pos]
		pos++
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, pos, fmt.Errorf("varint overflow")
		}
	}
	return 0, pos, io.ErrUnexpectedEOF
}

func readSignedVarint(data []byte, pos int) (int64, int, error) {
	uv, pos, err := readVarint(data, pos)
	if err != nil {
		return 0, pos, err
	}
	v := int64(uv>>1) ^ -int64(uv&1)
	return v, pos, nil
}

func readString(data []byte, pos int) (string, int, error) {
	n, pos, err := readVarint(data, pos)
	if err != nil {
		return "", pos, err
	}
	if pos+int(n) > len(data) {
		return "", pos, io.ErrUnexpectedEOF
	}
	s := string(data[pos : pos+int(n)])
	return s, pos + int(n), nil
}

func readBytes(data []byte, pos int) ([]byte, int, error) {
	n, pos, err := readVarint(data, pos)
	if err != nil {
		return nil, pos, err
	}
	if pos+int(n) > len(data) {
		return nil, pos, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	copy(b, data[pos:pos+int(n)])
	return b, pos + int(n), nil
}
