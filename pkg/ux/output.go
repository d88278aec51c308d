// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders factctl output for terminals and pipes.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

type styles struct {
	title   lipgloss.Style
	key     lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	error   lipgloss.Style
	box     lipgloss.Style
}

// Printer writes styled output when its writer is a terminal and plain
// tab-separated output otherwise, so factctl stays scriptable.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	plain  bool
	styles styles
}

// NewPrinter creates a printer for w. Styling is disabled when w is not
// a terminal or NO_COLOR is set.
func NewPrinter(w io.Writer) *Printer {
	return newPrinter(w, !isTerminal(w) || os.Getenv("NO_COLOR") != "")
}

// NewPlainPrinter creates a printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return newPrinter(w, true)
}

func newPrinter(w io.Writer, plain bool) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		plain: plain,
		styles: styles{
			title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
			key:     r.NewStyle().Foreground(ColorTealPrimary),
			muted:   r.NewStyle().Foreground(ColorSlate),
			success: r.NewStyle().Foreground(ColorTealBright),
			warning: r.NewStyle().Foreground(ColorWarning),
			error:   r.NewStyle().Foreground(ColorError),
			box: r.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorTealDeep).
				Padding(0, 1),
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether styling is off.
func (p *Printer) Plain() bool {
	return p.plain
}

// Title prints a heading. Plain printers skip it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.w, p.styles.title.Render(text))
}

// Line prints text unchanged.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Success prints a success message.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", p.styles.success, text)
}

// Warning prints a warning.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", p.styles.warning, text)
}

// Error prints an error.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", p.styles.error, text)
}

func (p *Printer) status(icon Icon, label string, style lipgloss.Style, text string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s: %s\n", label, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}

// Row is one key/value line of a table.
type Row struct {
	Key   string
	Value string
}

// Table prints rows under title. Terminals get an aligned box; pipes
// get "key<TAB>value" lines.
func (p *Printer) Table(title string, rows []Row) {
	if p.plain {
		for _, r := range rows {
			fmt.Fprintf(p.w, "%s\t%s\n", r.Key, r.Value)
		}
		return
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r.Key))
	}
	var b strings.Builder
	b.WriteString(p.styles.title.Render(title))
	for _, r := range rows {
		b.WriteByte('\n')
		b.WriteString(p.styles.key.Render(fmt.Sprintf("%-*s", width, r.Key)))
		b.WriteString("  ")
		b.WriteString(r.Value)
	}
	fmt.Fprintln(p.w, p.styles.box.Render(b.String()))
}

// Muted prints secondary text. Plain printers skip it.
func (p *Printer) Muted(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.w, p.styles.muted.Render(text))
}
