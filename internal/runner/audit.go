package runner

import (
	"context"
	"strings"
	"time"

	"votermatch/internal/config"
	"votermatch/internal/match"
	"votermatch/internal/metrics"
	"votermatch/internal/storage"
	"votermatch/internal/transformer/builtin"
)

// auditRows converts resolutions into one decision row each.
func auditRows(runID string, rs []match.Resolution, at time.Time) []storage.AuditRow {
	out := make([]storage.AuditRow, len(rs))
	for i, res := range rs {
		out[i] = storage.AuditRow{
			RunID:          runID,
			RowIndex:       res.Row,
			KeyHash:        builtin.KeyHash(res.Key.Name, res.Key.BirthYear),
			BirthYear:      res.Key.BirthYear,
			Status:         res.Status.String(),
			MatchedID:      res.MatchedID,
			CandidateCount: len(res.CandidateIDs),
			CandidateIDs:   strings.Join(res.CandidateIDs, ","),
			CreatedAt:      at,
		}
	}
	return out
}

func (r *Runner) writeAudit(ctx context.Context, p config.Pipeline, runID string, rs []match.Resolution, at time.Time) (int64, error) {
	newRepo := r.NewAuditRepo
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{Kind: p.Audit.Kind, DSN: p.Audit.DSN})
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	if err := repo.EnsureAuditTable(ctx, p.Audit.Table); err != nil {
		return 0, err
	}
	n, batches, err := storage.WriteAudit(ctx, repo, p.Audit.Table, auditRows(runID, rs, at), p.Audit.BatchSize)
	metrics.RecordBatches(p.Job, batches)
	metrics.RecordRecords(p.Job, "audit_rows", int(n))
	r.logger()("stage=%s table=%s rows=%d batches=%d", StepAudit, p.Audit.Table, n, batches)
	return n, err
}
