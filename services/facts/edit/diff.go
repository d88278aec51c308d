// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edit

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sourcegraph/go-diff/diff"
)

var (
	// ErrPatchMismatch indicates a patch whose context or removed lines do
	// not match the source text.
	ErrPatchMismatch = errors.New("patch does not match source")

	// ErrMultiFilePatch indicates a patch touching more than one file.
	ErrMultiFilePatch = errors.New("patch touches more than one file")
)

// FromTexts derives the edits that turn oldText into newText.
//
// Description:
//
//	Runs a byte diff and folds each adjacent delete/insert pair into one
//	replace. Every byte is mapped to one rune before diffing, so invalid
//	UTF-8 keeps its width and offsets stay byte-exact. The returned
//	sequence is ordered from the highest offset to the lowest, so every
//	edit is valid both against oldText and in sequential application order.
func FromTexts(oldText, newText []byte) *Sequence {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(byteRunes(oldText), byteRunes(newText), false)
	diffs = dmp.DiffCleanupEfficiency(diffs)

	var edits []Edit
	var pos uint32
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += uint32(utf8.RuneCountInString(d.Text))
		case diffmatchpatch.DiffDelete:
			del := span.New(pos, pos+uint32(utf8.RuneCountInString(d.Text)))
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				edits = append(edits, Replace(del, runeBytes(diffs[i+1].Text)))
				i++
			} else {
				edits = append(edits, Delete(del))
			}
			pos = del.End
		case diffmatchpatch.DiffInsert:
			edits = append(edits, Insert(pos, runeBytes(d.Text)))
		}
	}
	slices.Reverse(edits)
	return &Sequence{edits: edits}
}

// byteRunes widens each byte of b to one rune.
func byteRunes(b []byte) []rune {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return r
}

// runeBytes narrows diff text produced from byteRunes back to bytes.
func runeBytes(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		b = append(b, byte(r))
	}
	return b
}

// FromUnifiedDiff converts a single-file unified diff against src into
// byte edits.
//
// Description:
//
//	Each run of removed and added lines inside a hunk becomes one edit
//	over the byte range of the removed lines. Context and removed lines are
//	checked against src. Edits are ordered from the highest offset to the
//	lowest, as in FromTexts.
//
// Outputs:
//
//	*Sequence - The edits.
//	error - Parse errors, ErrMultiFilePatch or ErrPatchMismatch.
func FromUnifiedDiff(src, patch []byte) (*Sequence, error) {
	files, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("%d files: %w", len(files), ErrMultiFilePatch)
	}

	lines := lineStarts(src)
	var edits []Edit
	for _, h := range files[0].Hunks {
		hunkEdits, err := hunkToEdits(src, lines, h)
		if err != nil {
			return nil, err
		}
		edits = append(edits, hunkEdits...)
	}
	slices.Reverse(edits)
	return &Sequence{edits: edits}, nil
}

// lineStarts returns the byte offset of every line start in src.
func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOffset(starts []int, line, size int) int {
	if line < len(starts) {
		return starts[line]
	}
	return size
}

func hunkToEdits(src []byte, starts []int, h *diff.Hunk) ([]Edit, error) {
	line := int(h.OrigStartLine) - 1
	if h.OrigLines == 0 {
		// Pure additions name the line they follow.
		line = int(h.OrigStartLine)
	}
	if line < 0 {
		line = 0
	}

	var edits []Edit
	changeStart := -1
	var added []byte

	flush := func() {
		if changeStart < 0 {
			return
		}
		from := lineOffset(starts, changeStart, len(src))
		to := lineOffset(starts, line, len(src))
		target := span.New(uint32(from), uint32(to))
		switch {
		case target.IsEmpty():
			edits = append(edits, Insert(target.Start, added))
		case len(added) == 0:
			edits = append(edits, Delete(target))
		default:
			edits = append(edits, Replace(target, added))
		}
		changeStart = -1
		added = nil
	}

	checkOrig := func(body []byte) error {
		if line >= len(starts) {
			return fmt.Errorf("hunk @@ -%d: line %d past end: %w", h.OrigStartLine, line+1, ErrPatchMismatch)
		}
		from := starts[line]
		to := lineOffset(starts, line+1, len(src))
		got := bytes.TrimSuffix(src[from:to], []byte("\n"))
		want := bytes.TrimSuffix(body, []byte("\n"))
		if !bytes.Equal(got, want) {
			return fmt.Errorf("hunk @@ -%d: line %d: %w", h.OrigStartLine, line+1, ErrPatchMismatch)
		}
		return nil
	}

	for _, raw := range bytes.SplitAfter(h.Body, []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case ' ':
			flush()
			if err := checkOrig(raw[1:]); err != nil {
				return nil, err
			}
			line++
		case '-':
			if err := checkOrig(raw[1:]); err != nil {
				return nil, err
			}
			if changeStart < 0 {
				changeStart = line
			}
			line++
		case '+':
			if changeStart < 0 {
				changeStart = line
			}
			added = append(added, raw[1:]...)
		}
	}
	flush()
	return edits, nil
}
