package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

// Ingest runs a candidate batch through the trust gate in submission order:
// at or above the high threshold the memory commits as active; inside the
// band it commits as pending_approval and notifies the owner; below the low
// threshold it is dropped. In-batch duplicates (same type, same normalized
// content prefix) keep the first occurrence only.
func (e *Engine) Ingest(ctx context.Context, candidates []types.Candidate) (*types.IngestReport, error) {
	report := &types.IngestReport{
		Committed:       []string{},
		PendingApproval: []string{},
	}
	seen := make(map[string]bool, len(candidates))

	high := e.cfg.Ingestion.HighConfidence
	low := e.cfg.Ingestion.LowConfidence
	if low > high {
		return nil, fmt.Errorf("%w: low threshold %.2f exceeds high threshold %.2f",
			store.ErrInvalidInput, low, high)
	}

	for i, c := range candidates {
		if !c.Type.Valid() {
			return nil, fmt.Errorf("%w: candidate %d: unknown memory type %q", store.ErrInvalidInput, i, c.Type)
		}
		if strings.TrimSpace(c.Content) == "" {
			return nil, fmt.Errorf("%w: candidate %d: content is required", store.ErrInvalidInput, i)
		}

		key := c.DedupKey()
		if seen[key] {
			report.Duplicates++
			continue
		}
		seen[key] = true

		conf := types.Clamp01(c.Confidence)
		if conf < low {
			report.Dropped++
			e.log.Debug().Str("type", string(c.Type)).Float64("confidence", conf).
				Msg("candidate below confidence floor, dropped")
			continue
		}

		status := types.StatusActive
		if conf < high {
			status = types.StatusPendingApproval
		}

		m := &types.Memory{
			Type:          c.Type,
			Content:       c.Content,
			Summary:       c.Summary,
			Category:      c.Category,
			Tags:          c.Tags,
			Confidence:    conf,
			Importance:    c.Importance,
			Status:        status,
			SourceTaskID:  c.SourceTaskID,
			SourceAgentID: c.SourceAgentID,
			SourceAppID:   c.SourceAppID,
			ExpiresAt:     c.ExpiresAt,
		}
		created, err := e.Create(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("engine: ingest candidate %d: %w", i, err)
		}

		if status == types.StatusPendingApproval {
			report.PendingApproval = append(report.PendingApproval, created.ID)
			if err := e.notifier.PendingApproval(created); err != nil {
				e.log.Warn().Str("id", created.ID).Err(err).Msg("approval notification failed")
			}
		} else {
			report.Committed = append(report.Committed, created.ID)
		}
	}

	e.log.Info().
		Int("committed", len(report.Committed)).
		Int("pending", len(report.PendingApproval)).
		Int("dropped", report.Dropped).
		Int("duplicates", report.Duplicates).
		Msg("ingestion batch processed")
	return report, nil
}

// Approve activates a pending memory and clears its notification.
func (e *Engine) Approve(ctx context.Context, id string) (*types.Memory, error) {
	rec, err := e.store.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusPendingApproval {
		return nil, fmt.Errorf("%w: memory %s is %s, not pending approval",
			store.ErrStateConflict, id, rec.Status)
	}
	approved, err := e.store.Transition(ctx, id, types.StatusActive)
	if err != nil {
		return nil, err
	}
	if err := e.notifier.Resolve(id); err != nil {
		e.log.Warn().Str("id", id).Err(err).Msg("notification cleanup failed")
	}
	return approved, nil
}

// Reject hard-deletes a pending memory and clears its notification.
func (e *Engine) Reject(ctx context.Context, id string) error {
	rec, err := e.store.Peek(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != types.StatusPendingApproval {
		return fmt.Errorf("%w: memory %s is %s, not pending approval",
			store.ErrStateConflict, id, rec.Status)
	}
	if err := e.store.Delete(ctx, id, true); err != nil {
		return err
	}
	if err := e.notifier.Resolve(id); err != nil {
		e.log.Warn().Str("id", id).Err(err).Msg("notification cleanup failed")
	}
	return nil
}

// PendingApprovals lists memories waiting for review, oldest first.
func (e *Engine) PendingApprovals(ctx context.Context) ([]types.IndexEntry, error) {
	res, err := e.store.List(ctx, types.ListOptions{
		Filter:    types.Filter{Statuses: []types.MemoryStatus{types.StatusPendingApproval}},
		SortOrder: "asc",
		Limit:     200,
	})
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}
