// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fact

// Predicate names what a fact asserts about its subject span.
//
// The set is closed. Each predicate fixes the Category it belongs to and the
// ValueKind its object must carry; constructors enforce the pairing.
type Predicate uint16

// Lexical predicates describe single tokens.
const (
	// PredicateNone is the zero value and never stored.
	PredicateNone Predicate = iota

	IsToken      // object: number (token kind)
	IsIdentifier // object: none
	IsKeyword    // object: none
	IsString     // object: none
	IsNumber     // object: none
	IsBoolean    // object: number (0 or 1)
	IsNull       // object: none
	IsOperator   // object: none
	IsDelimiter  // object: none
	IsComment    // object: none
	HasText      // object: number (atom ID of the token text)

	// Structural predicates describe nesting.

	IsScope    // object: span (full extent of the scope)
	HasDepth   // object: number (nesting depth)
	IsKey      // object: none
	IsValue    // object: none
	HasParent  // object: fact reference
	FollowedBy // object: span (next sibling)

	// Syntactic predicates come from a full parse.

	IsNode        // object: number (atom ID of the node type)
	IsFunction    // object: none
	IsType        // object: none
	IsImport      // object: none
	IsDeclaration // object: none
	HasName       // object: number (atom ID)

	// Diagnostic predicates flag problems.

	IsError          // object: none
	IsUnterminated   // object: none
	IsInvalidByte    // object: number (the byte value)
	HasTrailingComma // object: none

	// Semantic predicates carry derived meaning.

	IsDefinition // object: none
	References   // object: fact reference
	IsFoldable   // object: span (fold region)

	predicateCount
)

// Category groups predicates by the layer that derives them.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryLexical
	CategoryStructural
	CategorySyntactic
	CategoryDiagnostic
	CategorySemantic
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryLexical:
		return "lexical"
	case CategoryStructural:
		return "structural"
	case CategorySyntactic:
		return "syntactic"
	case CategoryDiagnostic:
		return "diagnostic"
	case CategorySemantic:
		return "semantic"
	default:
		return "none"
	}
}

// ParseCategory maps a name produced by String back to a Category.
func ParseCategory(name string) (Category, bool) {
	for c := CategoryLexical; c <= CategorySemantic; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return CategoryNone, false
}

// ValueKind is the interpretation of a fact's 8-byte object payload.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueNumber
	ValueSpan
	ValueFactRef
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case ValueNumber:
		return "number"
	case ValueSpan:
		return "span"
	case ValueFactRef:
		return "fact"
	default:
		return "none"
	}
}

type predicateInfo struct {
	name     string
	category Category
	kind     ValueKind
}

var predicateTable = [predicateCount]predicateInfo{
	PredicateNone: {"none", CategoryNone, ValueNone},

	IsToken:      {"is_token", CategoryLexical, ValueNumber},
	IsIdentifier: {"is_identifier", CategoryLexical, ValueNone},
	IsKeyword:    {"is_keyword", CategoryLexical, ValueNone},
	IsString:     {"is_string", CategoryLexical, ValueNone},
	IsNumber:     {"is_number", CategoryLexical, ValueNone},
	IsBoolean:    {"is_boolean", CategoryLexical, ValueNumber},
	IsNull:       {"is_null", CategoryLexical, ValueNone},
	IsOperator:   {"is_operator", CategoryLexical, ValueNone},
	IsDelimiter:  {"is_delimiter", CategoryLexical, ValueNone},
	IsComment:    {"is_comment", CategoryLexical, ValueNone},
	HasText:      {"has_text", CategoryLexical, ValueNumber},

	IsScope:    {"is_scope", CategoryStructural, ValueSpan},
	HasDepth:   {"has_depth", CategoryStructural, ValueNumber},
	IsKey:      {"is_key", CategoryStructural, ValueNone},
	IsValue:    {"is_value", CategoryStructural, ValueNone},
	HasParent:  {"has_parent", CategoryStructural, ValueFactRef},
	FollowedBy: {"followed_by", CategoryStructural, ValueSpan},

	IsNode:        {"is_node", CategorySyntactic, ValueNumber},
	IsFunction:    {"is_function", CategorySyntactic, ValueNone},
	IsType:        {"is_type", CategorySyntactic, ValueNone},
	IsImport:      {"is_import", CategorySyntactic, ValueNone},
	IsDeclaration: {"is_declaration", CategorySyntactic, ValueNone},
	HasName:       {"has_name", CategorySyntactic, ValueNumber},

	IsError:          {"is_error", CategoryDiagnostic, ValueNone},
	IsUnterminated:   {"is_unterminated", CategoryDiagnostic, ValueNone},
	IsInvalidByte:    {"is_invalid_byte", CategoryDiagnostic, ValueNumber},
	HasTrailingComma: {"has_trailing_comma", CategoryDiagnostic, ValueNone},

	IsDefinition: {"is_definition", CategorySemantic, ValueNone},
	References:   {"references", CategorySemantic, ValueFactRef},
	IsFoldable:   {"is_foldable", CategorySemantic, ValueSpan},
}

// Valid reports whether p is a known, storable predicate.
func (p Predicate) Valid() bool {
	return p > PredicateNone && p < predicateCount
}

// String returns the snake_case predicate name.
func (p Predicate) String() string {
	if p >= predicateCount {
		return "unknown"
	}
	return predicateTable[p].name
}

// Category returns the layer the predicate belongs to.
func (p Predicate) Category() Category {
	if p >= predicateCount {
		return CategoryNone
	}
	return predicateTable[p].category
}

// ValueKind returns how the object of a fact with this predicate is read.
func (p Predicate) ValueKind() ValueKind {
	if p >= predicateCount {
		return ValueNone
	}
	return predicateTable[p].kind
}

// ParsePredicate maps a name produced by String back to a Predicate.
func ParsePredicate(name string) (Predicate, bool) {
	for p := PredicateNone + 1; p < predicateCount; p++ {
		if predicateTable[p].name == name {
			return p, true
		}
	}
	return PredicateNone, false
}

// Predicates returns every storable predicate in declaration order.
func Predicates() []Predicate {
	out := make([]Predicate, 0, predicateCount-1)
	for p := PredicateNone + 1; p < predicateCount; p++ {
		out = append(out, p)
	}
	return out
}
