// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, NewPrinter(&buf).Plain())
}

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Title("hidden title")
	p.Muted("hidden note")
	p.Success("loaded")
	p.Warning("slow")
	p.Error("failed")
	p.Table("Stats", []Row{{"facts", "12"}, {"tokens", "5"}})
	p.Line("%d edits", 3)

	want := "OK: loaded\nWARN: slow\nERROR: failed\nfacts\t12\ntokens\t5\n3 edits\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_StyledOutput(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)

	p.Success("loaded")
	assert.Contains(t, buf.String(), string(IconSuccess))
	assert.Contains(t, buf.String(), "loaded")

	buf.Reset()
	p.Table("Session", []Row{{"facts", "12"}, {"generation", "3"}})
	out := buf.String()
	assert.Contains(t, out, "Session")
	assert.Contains(t, out, "╭")
	assert.Contains(t, out, "facts       12")
	assert.Contains(t, out, "generation  3")
}
