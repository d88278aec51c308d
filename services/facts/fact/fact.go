// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fact defines the Fact record and its append-only FactStore.
//
// A Fact asserts that a subject span has a predicate, optionally with an
// object value, at some confidence. Facts are fixed-size 24-byte records:
//
//	offset  size  field
//	0       8     subject    (span.PackedSpan)
//	8       8     object     (Value, interpreted per predicate)
//	16      4     id         (ID, 0 = no fact)
//	20      2     predicate  (Predicate)
//	22      2     confidence (IEEE-754 binary16)
//
// Fields are unexported. The only way to build a Fact is through the
// constructors in this package (Simple, WithNumber, WithSpan, WithFactRef,
// Certain), which pair each predicate with the object kind it requires.
// Facts are immutable; an update is a new fact plus removal of the old one.
package fact

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/x448/float16"
)

// ID identifies a stored fact. 0 is the "no fact" sentinel.
type ID uint32

// NoFact is the reserved invalid ID.
const NoFact ID = 0

var (
	// ErrValueKindMismatch is returned when a constructor is used with a
	// predicate that requires a different object kind.
	ErrValueKindMismatch = errors.New("predicate does not accept this value kind")

	// ErrInvalidPredicate is returned for PredicateNone or unknown predicates.
	ErrInvalidPredicate = errors.New("invalid predicate")

	// ErrInvalidConfidence is returned for confidences outside [0, 1] or NaN.
	ErrInvalidConfidence = errors.New("confidence must be within [0, 1]")
)

// Value is the 8-byte object payload of a fact.
//
// Its interpretation is fixed by the fact's predicate (see
// Predicate.ValueKind); the bytes carry no tag of their own.
type Value struct {
	raw uint64
}

// Raw returns the payload bits.
func (v Value) Raw() uint64 {
	return v.raw
}

// Fact is an immutable 24-byte assertion about a span.
type Fact struct {
	subject    span.PackedSpan
	object     Value
	id         ID
	predicate  Predicate
	confidence float16.Float16
}

// Compile-time check that Fact stays exactly 24 bytes.
var _ [24 - unsafe.Sizeof(Fact{})]struct{}
var _ [unsafe.Sizeof(Fact{}) - 24]struct{}

// Size is the in-memory size of a Fact in bytes.
const Size = int(unsafe.Sizeof(Fact{}))

func build(pred Predicate, kind ValueKind, subject span.Span, raw uint64, confidence float32) (Fact, error) {
	if !pred.Valid() {
		return Fact{}, fmt.Errorf("%w: %d", ErrInvalidPredicate, pred)
	}
	if pred.ValueKind() != kind {
		return Fact{}, fmt.Errorf("%w: %s wants %s, got %s", ErrValueKindMismatch, pred, pred.ValueKind(), kind)
	}
	if math.IsNaN(float64(confidence)) || confidence < 0 || confidence > 1 {
		return Fact{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}
	return Fact{
		subject:    span.Pack(subject),
		object:     Value{raw: raw},
		predicate:  pred,
		confidence: float16.Fromfloat32(confidence),
	}, nil
}

// Simple builds a fact with no object.
func Simple(pred Predicate, subject span.Span, confidence float32) (Fact, error) {
	return build(pred, ValueNone, subject, 0, confidence)
}

// Certain builds an object-less fact with confidence 1.0.
func Certain(pred Predicate, subject span.Span) (Fact, error) {
	return build(pred, ValueNone, subject, 0, 1)
}

// WithNumber builds a fact whose object is a signed integer.
func WithNumber(pred Predicate, subject span.Span, n int64, confidence float32) (Fact, error) {
	return build(pred, ValueNumber, subject, uint64(n), confidence)
}

// WithSpan builds a fact whose object is another span.
func WithSpan(pred Predicate, subject, object span.Span, confidence float32) (Fact, error) {
	return build(pred, ValueSpan, subject, uint64(span.Pack(object)), confidence)
}

// WithFactRef builds a fact whose object refers to another fact.
func WithFactRef(pred Predicate, subject span.Span, ref ID, confidence float32) (Fact, error) {
	return build(pred, ValueFactRef, subject, uint64(ref), confidence)
}

// Must unwraps a constructor result, panicking on error.
//
// Intended for statically known predicate/value pairs such as tables and
// tests.
func Must(f Fact, err error) Fact {
	if err != nil {
		panic(err)
	}
	return f
}

// ID returns the store-assigned ID, or NoFact for an unstored fact.
func (f Fact) ID() ID {
	return f.id
}

// Predicate returns the fact's predicate.
func (f Fact) Predicate() Predicate {
	return f.predicate
}

// Subject returns the span the fact is about.
func (f Fact) Subject() span.Span {
	return f.subject.Unpack()
}

// PackedSubject returns the subject in packed form.
func (f Fact) PackedSubject() span.PackedSpan {
	return f.subject
}

// Confidence returns the fact's confidence in [0, 1].
func (f Fact) Confidence() float32 {
	return f.confidence.Float32()
}

// Object returns the raw object payload.
func (f Fact) Object() Value {
	return f.object
}

// Number returns the numeric object. The boolean is false when the
// predicate does not carry a number.
func (f Fact) Number() (int64, bool) {
	if f.predicate.ValueKind() != ValueNumber {
		return 0, false
	}
	return int64(f.object.raw), true
}

// ObjectSpan returns the span object, if the predicate carries one.
func (f Fact) ObjectSpan() (span.Span, bool) {
	if f.predicate.ValueKind() != ValueSpan {
		return span.Span{}, false
	}
	return span.PackedSpan(f.object.raw).Unpack(), true
}

// FactRef returns the referenced fact ID, if the predicate carries one.
func (f Fact) FactRef() (ID, bool) {
	if f.predicate.ValueKind() != ValueFactRef {
		return NoFact, false
	}
	return ID(f.object.raw), true
}

// WithSubject returns a copy of f about a different span and with no ID.
//
// Used when an edit shifts a fact that is otherwise still true; the copy
// is appended as a new fact.
func (f Fact) WithSubject(subject span.Span) Fact {
	out := f
	out.subject = span.Pack(subject)
	out.id = NoFact
	return out
}

// String formats the fact for diagnostics.
func (f Fact) String() string {
	obj := ""
	switch f.predicate.ValueKind() {
	case ValueNumber:
		obj = fmt.Sprintf(" %d", int64(f.object.raw))
	case ValueSpan:
		obj = " " + span.PackedSpan(f.object.raw).String()
	case ValueFactRef:
		obj = fmt.Sprintf(" #%d", f.object.raw)
	}
	return fmt.Sprintf("#%d %s %s%s (%.2f)", f.id, f.subject, f.predicate, obj, f.Confidence())
}
