// Package assemble builds token-budgeted context blocks for agent prompts.
// The assembler never invents text: it selects stored memories, orders them
// into sections (owner preferences first, then domain knowledge, then
// task-relevant hits) and stops when the budget is spent. Assemble returns
// nil when nothing qualifies so callers can skip the context block entirely.
package assemble

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/pkg/types"
)

// defaultTokenBudget applies when the request does not set one.
const defaultTokenBudget = 2000

// Request describes what the caller is about to do.
type Request struct {
	// Task is the free-text task description, used as the retrieval query.
	Task string `json:"task"`

	// Domain optionally names a category; high-importance facts and
	// observations from it are folded in.
	Domain string `json:"domain,omitempty"`

	// TokenBudget caps the assembled context size.
	TokenBudget int `json:"token_budget,omitempty"`

	// MinRelevance drops task-relevant hits whose fused retrieval score
	// falls below it. Zero means no floor.
	MinRelevance float64 `json:"min_relevance,omitempty"`
}

// Section is one labelled group of selected memories.
type Section struct {
	Title    string          `json:"title"`
	Memories []*types.Memory `json:"memories"`
}

// Context is the assembled result.
type Context struct {
	Sections    []Section `json:"sections"`
	TokensUsed  int       `json:"tokens_used"`
	TokenBudget int       `json:"token_budget"`

	// Text is the rendered plain-text block, grouped by memory type with
	// preferences first.
	Text string `json:"text"`

	// Truncated reports that the budget cut the selection short.
	Truncated bool `json:"truncated"`
}

// Assembler selects memories for context blocks.
type Assembler struct {
	engine *engine.Engine
	cfg    config.AssemblerConfig
	log    zerolog.Logger
}

// New creates an assembler over the engine.
func New(e *engine.Engine, cfg config.AssemblerConfig, log zerolog.Logger) *Assembler {
	if cfg.TokenDivisor <= 0 {
		cfg.TokenDivisor = 4
	}
	return &Assembler{engine: e, cfg: cfg, log: log}
}

// Assemble builds the context for the request. Preferences are always
// considered first so stylistic guidance survives even tight budgets.
// Returns nil when no memory qualifies.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Context, error) {
	budget := req.TokenBudget
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	out := &Context{TokenBudget: budget}
	used := 0
	included := make(map[string]bool)

	add := func(title string, memories []*types.Memory) {
		var kept []*types.Memory
		for _, m := range memories {
			if included[m.ID] {
				continue
			}
			cost := a.tokenCost(m)
			if used+cost > budget {
				out.Truncated = true
				continue
			}
			used += cost
			included[m.ID] = true
			kept = append(kept, m)
		}
		if len(kept) > 0 {
			out.Sections = append(out.Sections, Section{Title: title, Memories: kept})
		}
	}

	prefs, err := a.topByImportance(ctx, types.Filter{
		Types: []types.MemoryType{types.TypePreference},
	}, a.cfg.PreferenceQuota)
	if err != nil {
		return nil, err
	}
	add("preferences", prefs)

	if req.Domain != "" {
		domain, err := a.topByImportance(ctx, types.Filter{
			Types:      []types.MemoryType{types.TypeFact, types.TypeObservation},
			Categories: []string{req.Domain},
		}, a.cfg.DomainQuota)
		if err != nil {
			return nil, err
		}
		add("domain", domain)
	}

	if req.Task != "" {
		results, err := a.engine.Search(ctx, req.Task, 20, types.Filter{})
		if err != nil {
			return nil, err
		}
		relevant := lo.Filter(results, func(r engine.SearchResult, _ int) bool {
			return r.Hit.Score >= req.MinRelevance
		})
		add("relevant", lo.Map(relevant, func(r engine.SearchResult, _ int) *types.Memory {
			return r.Memory
		}))
	}

	if len(out.Sections) == 0 {
		return nil, nil
	}
	out.TokensUsed = used
	out.Text = out.Render()
	return out, nil
}

// typeRenderOrder fixes the grouping order of the rendered block.
// Preferences always lead.
var typeRenderOrder = []types.MemoryType{
	types.TypePreference,
	types.TypeDecision,
	types.TypeFact,
	types.TypeLearning,
	types.TypeObservation,
	types.TypeContext,
}

// Render formats the selected memories as a plain bulleted block grouped by
// memory type, preferences first. The structured sections stay untouched;
// this is the text callers paste into a prompt.
func (c *Context) Render() string {
	if c == nil || len(c.Sections) == 0 {
		return ""
	}

	byType := make(map[types.MemoryType][]*types.Memory)
	seen := make(map[string]bool)
	for _, sec := range c.Sections {
		for _, m := range sec.Memories {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			byType[m.Type] = append(byType[m.Type], m)
		}
	}

	var b strings.Builder
	for _, t := range typeRenderOrder {
		memories := byType[t]
		if len(memories) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(t))
		b.WriteString(":\n")
		for _, m := range memories {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(m.Content))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// topByImportance loads the bodies of the highest-importance active entries
// matching the filter.
func (a *Assembler) topByImportance(ctx context.Context, filter types.Filter, quota int) ([]*types.Memory, error) {
	if quota <= 0 {
		return nil, nil
	}
	filter.Statuses = []types.MemoryStatus{types.StatusActive}
	res, err := a.engine.List(ctx, types.ListOptions{
		Filter: filter,
		SortBy: "importance",
		Limit:  quota,
	})
	if err != nil {
		return nil, err
	}
	memories := make([]*types.Memory, 0, len(res.Items))
	for _, entry := range res.Items {
		rec, err := a.engine.Store().Peek(ctx, entry.ID)
		if err != nil {
			continue
		}
		memories = append(memories, rec)
	}
	return memories, nil
}

// tokenCost estimates the prompt cost of a memory from its content length.
func (a *Assembler) tokenCost(m *types.Memory) int {
	cost := len(m.Content) / a.cfg.TokenDivisor
	if cost < 1 {
		cost = 1
	}
	return cost
}
