// types.go: Core data model for the strata time-series storage engine
//
// The concrete definitions live in internal/model so that the engine's
// internal subsystems (codec, tsindex, walog, query) can depend on the
// data model without importing this root package, which in turn depends on
// all of them. Everything here is a type alias or thin wrapper re-exporting
// internal/model under the same names, so the public API is unaffected.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import "github.com/agilira/strata/internal/model"

// ValueKind identifies which variant of Value is populated. Value is a
// closed tagged union over {int64, float64, bool, string, bytes}; adding a
// new kind of sample value means adding a new ValueKind and a new field,
// not growing an open interface hierarchy.
type ValueKind = model.ValueKind

const (
	KindInt64   = model.KindInt64
	KindFloat64 = model.KindFloat64
	KindBool    = model.KindBool
	KindString  = model.KindString
	KindBytes   = model.KindBytes
)

// Value is a sample's payload: exactly one of the fields is meaningful,
// selected by Kind.
type Value = model.Value

func IntValue(v int64) Value     { return model.IntValue(v) }
func FloatValue(v float64) Value { return model.FloatValue(v) }
func BoolValue(v bool) Value     { return model.BoolValue(v) }
func StringValue(v string) Value { return model.StringValue(v) }
func BytesValue(v []byte) Value  { return model.BytesValue(v) }

// Tags is a sample's optional key/value metadata.
type Tags = model.Tags

// Sample is the atomic unit stored by the engine: a timestamped,
// optionally tagged value. Samples are immutable after acceptance by the
// Write API.
type Sample = model.Sample
