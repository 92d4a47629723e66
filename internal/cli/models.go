// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - The "arena models" command.
//
// Examples:
//
//	arena models              List every model, grouped by provider
//	arena models llama        Only models whose id, name or provider match
//	arena models --refresh    Bypass the catalog cache
//	arena models --json       Machine readable list
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/imajinxai/llm-arena/internal/catalog"
	"github.com/imajinxai/llm-arena/internal/model"
	"github.com/imajinxai/llm-arena/internal/util"
)

// ModelSource lists the models the endpoint offers.
type ModelSource interface {
	Models(ctx context.Context) ([]model.ModelRef, error)
	Refresh(ctx context.Context) ([]model.ModelRef, error)
}

const (
	modelIDWidth  = 44
	modelCtxWidth = 16
)

// HandleModels runs "arena models [filter]".
func HandleModels(ctx context.Context, w io.Writer, src ModelSource, args Args) error {
	filter := strings.Join(NewArgParser(args.Raw).PositionalFrom(0), " ")

	return OutputJSON(w, args.JSON, "models", func() (interface{}, error) {
		load := src.Models
		if args.Refresh {
			load = src.Refresh
		}
		refs, err := load(ctx)
		if err != nil {
			return nil, NewCommandError("models", "list", "could not load the model catalog", err)
		}

		matched := make([]model.ModelRef, 0, len(refs))
		for _, ref := range refs {
			if ref.Matches(filter) {
				matched = append(matched, ref)
			}
		}
		if !args.JSON {
			printModels(w, matched, len(refs), filter)
		}
		return matched, nil
	})
}

func printModels(w io.Writer, refs []model.ModelRef, total int, filter string) {
	if total == 0 {
		fmt.Fprintln(w, WarningStyle.Render("No models available."))
		fmt.Fprintln(w, DimStyle.Render("Set an API key with `arena config set-key` or ARENA_API_KEY."))
		return
	}
	if len(refs) == 0 {
		fmt.Fprintf(w, "No models match %q (%d available)\n", filter, total)
		return
	}

	for _, group := range catalog.GroupByProvider(refs) {
		fmt.Fprintln(w, SectionStyle.Render(catalog.ProviderLabel(group[0].Provider)))
		for _, ref := range group {
			id := util.PadWidth(util.TruncateWidth(ref.ID, modelIDWidth), modelIDWidth)
			ctxWin := util.PadWidth(ref.ContextString(), modelCtxWidth)
			fmt.Fprintf(w, "  %s %s %s\n", ValueStyle.Render(id), DimStyle.Render(ctxWin), DimStyle.Render(ref.CostString()))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d of %d models\n", len(refs), total)
}
