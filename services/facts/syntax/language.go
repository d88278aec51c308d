// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax derives syntactic facts from tree-sitter parse trees.
package syntax

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/factstream/services/facts/fact"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Rule maps a tree-sitter node type to a fact.
type Rule struct {
	// Predicate is emitted with the node as subject.
	Predicate fact.Predicate

	// NameField is the field holding the node's name. The name node gets
	// HasName and, for definitions, IsDefinition facts. Empty means the
	// node has no name.
	NameField string

	// Definition marks nodes that define their name.
	Definition bool
}

// Language is a tree-sitter grammar plus the rules mapping its node types
// to facts.
type Language struct {
	// Name is the canonical lowercase language name.
	Name string

	// Extensions are file extensions including the leading dot.
	Extensions []string

	// Rules maps node types to facts. Node types without a rule produce
	// no facts beyond syntax errors.
	Rules map[string]Rule

	grammar *sitter.Language
}

// Grammar returns the tree-sitter grammar.
func (l *Language) Grammar() *sitter.Language {
	return l.grammar
}

// Go returns the Go language definition.
func Go() *Language {
	return &Language{
		Name:       "go",
		Extensions: []string{".go"},
		grammar:    golang.GetLanguage(),
		Rules: map[string]Rule{
			"function_declaration": {Predicate: fact.IsFunction, NameField: "name", Definition: true},
			"method_declaration":   {Predicate: fact.IsFunction, NameField: "name", Definition: true},
			"type_spec":            {Predicate: fact.IsType, NameField: "name", Definition: true},
			"import_spec":          {Predicate: fact.IsImport, NameField: "path"},
			"var_spec":             {Predicate: fact.IsDeclaration, NameField: "name", Definition: true},
			"const_spec":           {Predicate: fact.IsDeclaration, NameField: "name", Definition: true},
			"comment":              {Predicate: fact.IsComment},
		},
	}
}

// Python returns the Python language definition.
func Python() *Language {
	return &Language{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		grammar:    python.GetLanguage(),
		Rules: map[string]Rule{
			"function_definition":   {Predicate: fact.IsFunction, NameField: "name", Definition: true},
			"class_definition":      {Predicate: fact.IsType, NameField: "name", Definition: true},
			"import_statement":      {Predicate: fact.IsImport, NameField: "name"},
			"import_from_statement": {Predicate: fact.IsImport, NameField: "module_name"},
			"comment":               {Predicate: fact.IsComment},
		},
	}
}

// JavaScript returns the JavaScript language definition.
func JavaScript() *Language {
	return &Language{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		grammar:    javascript.GetLanguage(),
		Rules: map[string]Rule{
			"function_declaration": {Predicate: fact.IsFunction, NameField: "name", Definition: true},
			"method_definition":    {Predicate: fact.IsFunction, NameField: "name", Definition: true},
			"arrow_function":       {Predicate: fact.IsFunction},
			"class_declaration":    {Predicate: fact.IsType, NameField: "name", Definition: true},
			"import_statement":     {Predicate: fact.IsImport, NameField: "source"},
			"variable_declarator":  {Predicate: fact.IsDeclaration, NameField: "name", Definition: true},
			"comment":              {Predicate: fact.IsComment},
		},
	}
}

// Registry maps language names and file extensions to languages.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// byLanguage maps language names to definitions.
	byLanguage map[string]*Language

	// byExtension maps file extensions to definitions.
	byExtension map[string]*Language
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLanguage:  make(map[string]*Language),
		byExtension: make(map[string]*Language),
	}
}

// DefaultRegistry returns a registry with Go, Python and JavaScript.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Go())
	r.Register(Python())
	r.Register(JavaScript())
	return r
}

// Register adds lang, replacing any language with the same name or
// extension.
func (r *Registry) Register(lang *Language) {
	if lang == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[lang.Name] = lang
	for _, ext := range lang.Extensions {
		r.byExtension[ext] = lang
	}
}

// ByLanguage returns the language with the given name.
func (r *Registry) ByLanguage(name string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.byLanguage[name]
	return lang, ok
}

// ByExtension returns the language for a file extension such as ".go".
func (r *Registry) ByExtension(ext string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.byExtension[strings.ToLower(ext)]
	return lang, ok
}

// ForPath returns the language for a file path.
func (r *Registry) ForPath(path string) (*Language, bool) {
	return r.ByExtension(filepath.Ext(path))
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byLanguage))
	for name := range r.byLanguage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
