// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/AleutianAI/factstream/pkg/ux"
	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/spf13/cobra"
)

func runEdit(cmd *cobra.Command, args []string) error {
	patch, err := os.ReadFile(editPatch)
	if err != nil {
		return fmt.Errorf("reading patch: %w", err)
	}

	ctx := cmd.Context()
	ws := cli.newWorkspace()
	defer ws.Close()

	s, err := cli.open(ctx, ws, args[0])
	if err != nil {
		return err
	}
	if editWarm {
		if err := warmCache(ctx, s); err != nil {
			return err
		}
	}

	results, err := s.ApplyPatch(ctx, patch)
	for i, res := range results {
		cli.out.Table(fmt.Sprintf("Edit %d: %s", i+1, res.Edit), editRows(res))
	}
	if err != nil {
		cli.out.Error(err.Error())
		return err
	}

	st := s.Stats()
	cli.out.Success(fmt.Sprintf("applied %d edits, %d facts at generation %d, %d cache entries left",
		len(results), st.Facts, st.Generation, st.Cache.EntryCount))

	if editWrite {
		info, err := os.Stat(s.Path())
		if err != nil {
			return err
		}
		if err := os.WriteFile(s.Path(), s.Source(), info.Mode().Perm()); err != nil {
			return fmt.Errorf("writing %s: %w", s.Path(), err)
		}
	}
	return nil
}

// warmCache runs one query per category and one per predicate so the
// report shows which cached results an edit invalidates.
func warmCache(ctx context.Context, s *engine.Session) error {
	seen := make(map[fact.Category]bool)
	for _, p := range fact.Predicates() {
		if _, err := s.Query(ctx, query.ByPredicate(p)); err != nil {
			return err
		}
		if c := p.Category(); !seen[c] {
			seen[c] = true
			if _, err := s.Query(ctx, query.ByCategory(c)); err != nil {
				return err
			}
		}
	}
	return nil
}

func editRows(res engine.EditResult) []ux.Row {
	return []ux.Row{
		{Key: "region", Value: res.Region.String()},
		{Key: "generation", Value: strconv.FormatUint(uint64(res.Generation), 10)},
		{Key: "relexed_tokens", Value: strconv.Itoa(res.RelexedTokens)},
		{Key: "resynced", Value: strconv.FormatBool(res.Resynced)},
		{Key: "facts_dropped", Value: strconv.Itoa(res.FactsDropped)},
		{Key: "facts_appended", Value: strconv.Itoa(res.FactsAppended)},
		{Key: "cache_invalidated", Value: strconv.Itoa(res.Invalidated)},
	}
}
