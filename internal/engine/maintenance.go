package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/internal/vecmath"
	"github.com/engram-memory/engram/pkg/types"
)

// decayEpsilon skips persisting importance changes too small to matter, so a
// nightly decay pass over a quiet store does not rewrite every artifact.
const decayEpsilon = 0.005

// DecayReport summarizes one decay pass.
type DecayReport struct {
	Examined int      `json:"examined"`
	Updated  int      `json:"updated"`
	Archived []string `json:"archived"`
}

// ApplyDecay halves each active memory's importance every half-life of
// inactivity, measured from the last access (or creation when never
// accessed). Memories older than the minimum age whose importance sinks
// below the floor are archived.
func (e *Engine) ApplyDecay(ctx context.Context) (*DecayReport, error) {
	cfg := e.cfg.Maintenance
	now := time.Now().UTC()
	report := &DecayReport{Archived: []string{}}

	for _, entry := range e.store.Entries(ctx) {
		if entry.Status != types.StatusActive {
			continue
		}
		rec, err := e.store.Peek(ctx, entry.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		report.Examined++

		reference := rec.CreatedAt
		if rec.LastAccessed != nil && rec.LastAccessed.After(reference) {
			reference = *rec.LastAccessed
		}
		idle := daysSince(reference, now)
		if idle <= 0 {
			continue
		}

		decayed := rec.Importance * math.Pow(2, -idle/cfg.DecayHalfLifeDays)
		age := daysSince(rec.CreatedAt, now)
		if decayed < cfg.DecayFloor && age >= cfg.DecayMinAgeDays {
			if _, err := e.store.Transition(ctx, rec.ID, types.StatusArchived); err != nil {
				return nil, err
			}
			report.Archived = append(report.Archived, rec.ID)
			continue
		}

		if math.Abs(decayed-rec.Importance) < decayEpsilon {
			continue
		}
		imp := decayed
		if _, err := e.store.Update(ctx, rec.ID, store.UpdatePatch{Importance: &imp}); err != nil {
			return nil, err
		}
		report.Updated++
	}

	e.log.Info().
		Int("examined", report.Examined).
		Int("updated", report.Updated).
		Int("archived", len(report.Archived)).
		Msg("decay pass complete")
	return report, nil
}

// Cluster describes one duplicate group found by consolidation.
type Cluster struct {
	Keep     string   `json:"keep"`
	Archived []string `json:"archived"`
}

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	Examined int       `json:"examined"`
	Clusters []Cluster `json:"clusters"`
	DryRun   bool      `json:"dry_run"`
}

// Consolidate groups active memories whose embeddings are transitively
// similar above the configured threshold. Each group keeps its most important
// member; the rest are archived with a back-reference link to the keeper.
// With dryRun the groups are reported but nothing changes.
func (e *Engine) Consolidate(ctx context.Context, dryRun bool) (*ConsolidationReport, error) {
	vectors, err := e.store.Vectors(ctx)
	if err != nil {
		return nil, err
	}
	// only active records participate
	for id := range vectors {
		entry, ok := e.store.Entry(ctx, id)
		if !ok || entry.Status != types.StatusActive {
			delete(vectors, id)
		}
	}

	report := &ConsolidationReport{Examined: len(vectors), Clusters: []Cluster{}, DryRun: dryRun}
	for _, group := range vecmath.Clusters(vectors, e.cfg.Maintenance.ConsolidationThreshold) {
		if len(group) < 2 {
			continue
		}
		keep, rest, err := e.pickKeeper(ctx, group)
		if err != nil {
			return nil, err
		}
		cluster := Cluster{Keep: keep, Archived: rest}
		report.Clusters = append(report.Clusters, cluster)
		if dryRun {
			continue
		}
		for _, id := range rest {
			if err := e.Link(ctx, id, keep); err != nil {
				return nil, err
			}
			if _, err := e.store.Transition(ctx, id, types.StatusArchived); err != nil {
				return nil, err
			}
		}
	}

	e.log.Info().
		Int("examined", report.Examined).
		Int("clusters", len(report.Clusters)).
		Bool("dry_run", dryRun).
		Msg("consolidation pass complete")
	return report, nil
}

// pickKeeper chooses the cluster member with the highest importance, breaking
// ties by lowest ID for determinism.
func (e *Engine) pickKeeper(ctx context.Context, group []string) (string, []string, error) {
	type member struct {
		id         string
		importance float64
	}
	members := make([]member, 0, len(group))
	for _, id := range group {
		entry, ok := e.store.Entry(ctx, id)
		if !ok {
			continue
		}
		members = append(members, member{id: id, importance: entry.Importance})
	}
	if len(members) == 0 {
		return "", nil, store.ErrNotFound
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].importance != members[j].importance {
			return members[i].importance > members[j].importance
		}
		return members[i].id < members[j].id
	})

	rest := make([]string, 0, len(members)-1)
	for _, m := range members[1:] {
		rest = append(rest, m.id)
	}
	return members[0].id, rest, nil
}

// ClearExpired transitions every active or pending memory whose expiry time
// has passed to expired status. Returns the affected IDs.
func (e *Engine) ClearExpired(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	var expired []string
	for _, entry := range e.store.Entries(ctx) {
		if entry.ExpiresAt == nil || entry.ExpiresAt.After(now) {
			continue
		}
		if !entry.Status.CanTransitionTo(types.StatusExpired) {
			continue
		}
		if _, err := e.store.Transition(ctx, entry.ID, types.StatusExpired); err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStateConflict) {
				continue
			}
			return nil, err
		}
		expired = append(expired, entry.ID)
	}
	if len(expired) > 0 {
		e.log.Info().Int("count", len(expired)).Msg("expired memories cleared")
	}
	return expired, nil
}
