// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import "errors"

// Sentinel errors for syntax fact emission.
//
// These errors can be checked using errors.Is() to determine the category
// of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no language is registered for
	// the requested name or file extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrParseFailed indicates tree-sitter produced no tree.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrFileTooLarge indicates content above the emitter's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrClosed indicates use of an emitter after Close.
	ErrClosed = errors.New("emitter closed")
)
