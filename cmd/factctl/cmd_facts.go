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
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/factstream/pkg/ux"
	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/spf13/cobra"
)

func runLex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws := cli.newWorkspace()
	defer ws.Close()

	s, err := cli.open(ctx, ws, args[0])
	if err != nil {
		return err
	}

	if lexTokens {
		if s.Mode() != engine.ModeLexical {
			return fmt.Errorf("%s is parsed, not lexed: no tokens", s.Path())
		}
		tokens, err := s.Tokens(nil, 0, lexLimit)
		if err != nil {
			return err
		}
		for _, tok := range tokens {
			cli.out.Line("%s", tok)
		}
		return nil
	}

	facts := s.AllFacts()
	if lexLimit > 0 && len(facts) > lexLimit {
		facts = facts[:lexLimit]
	}
	for _, f := range facts {
		cli.out.Line("%s", formatFact(s, f))
	}
	cli.out.Muted(fmt.Sprintf("%d facts, %s mode", s.Stats().Facts, s.Mode()))
	return nil
}

// buildQuery combines the query flags with And.
func buildQuery() (query.Query, error) {
	var parts []query.Query
	if queryPredicate != "" {
		p, ok := fact.ParsePredicate(queryPredicate)
		if !ok {
			return query.Query{}, fmt.Errorf("unknown predicate %q", queryPredicate)
		}
		parts = append(parts, query.ByPredicate(p))
	}
	if queryCategory != "" {
		c, ok := fact.ParseCategory(queryCategory)
		if !ok {
			return query.Query{}, fmt.Errorf("unknown category %q", queryCategory)
		}
		parts = append(parts, query.ByCategory(c))
	}
	if queryAt >= 0 {
		parts = append(parts, query.ContainingPosition(uint32(queryAt)))
	}
	if querySpan != "" {
		sp, err := parseSpan(querySpan)
		if err != nil {
			return query.Query{}, err
		}
		parts = append(parts, query.Overlapping(sp))
	}
	if queryGeneration >= 0 {
		parts = append(parts, query.ByGeneration(fact.Generation(queryGeneration)))
	}

	switch len(parts) {
	case 0:
		return query.Query{}, errors.New("at least one of --predicate, --category, --at, --span or --generation is required")
	case 1:
		return parts[0], nil
	default:
		return query.And(parts...), nil
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := buildQuery()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ws := cli.newWorkspace()
	defer ws.Close()

	s, err := cli.open(ctx, ws, args[0])
	if err != nil {
		return err
	}
	ids, err := s.Query(ctx, q)
	if err != nil {
		return err
	}
	for _, f := range s.Facts(ids) {
		cli.out.Line("%s", formatFact(s, f))
	}
	cli.out.Muted(fmt.Sprintf("%d of %d facts match %s", len(ids), s.Stats().Facts, q))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ws := cli.newWorkspace()
	defer ws.Close()

	s, err := cli.open(ctx, ws, args[0])
	if err != nil {
		return err
	}
	cli.out.Table("Session", statsRows(s.Stats()))
	return nil
}

func statsRows(st engine.Stats) []ux.Row {
	return []ux.Row{
		{Key: "path", Value: st.Path},
		{Key: "mode", Value: st.Mode.String()},
		{Key: "source_bytes", Value: strconv.Itoa(st.SourceBytes)},
		{Key: "tokens", Value: strconv.Itoa(st.Tokens)},
		{Key: "facts", Value: strconv.Itoa(st.Facts)},
		{Key: "generation", Value: strconv.FormatUint(uint64(st.Generation), 10)},
		{Key: "edits", Value: strconv.Itoa(st.Edits)},
		{Key: "arena_peak", Value: strconv.Itoa(st.ArenaPeak)},
		{Key: "atoms", Value: strconv.Itoa(st.Atoms.Count)},
		{Key: "atom_bytes", Value: strconv.FormatUint(st.Atoms.TotalBytes, 10)},
		{Key: "atom_hit_rate", Value: fmt.Sprintf("%.1f%%", st.Atoms.HitRate())},
		{Key: "cache_entries", Value: strconv.Itoa(st.Cache.EntryCount)},
		{Key: "cache_hits", Value: strconv.FormatInt(st.Cache.Hits, 10)},
		{Key: "cache_misses", Value: strconv.FormatInt(st.Cache.Misses, 10)},
		{Key: "cache_invalidations", Value: strconv.FormatInt(st.Cache.Invalidations, 10)},
		{Key: "cache_evictions", Value: strconv.FormatInt(st.Cache.Evictions, 10)},
	}
}
