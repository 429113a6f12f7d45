package analyzer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/store"
	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// LoadMessages returns a thread's messages oldest first, indexed by
// position.
func LoadMessages(ctx context.Context, st *store.Store, threadID string) ([]thread.Message, error) {
	rows, err := st.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	msgs := make([]thread.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].ToThreadMessage(i)
	}
	return msgs, nil
}

// AnalyzeThread analyzes a stored thread and persists the snapshot. A
// fresh snapshot is returned as-is unless force is set. Store failures
// are returned wrapped; a missing thread wraps store.ErrNotFound.
func (a *Analyzer) AnalyzeThread(ctx context.Context, threadID string, force bool) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.AnalyzeThread",
		trace.WithAttributes(attribute.String("thread.id", threadID), attribute.Bool("force", force)))
	defer span.End()

	t, err := a.store.GetThread(ctx, threadID)
	if err != nil {
		span.SetStatus(codes.Error, "thread lookup failed")
		return nil, err
	}

	if !force && !a.NeedsAnalysis(t) {
		snap, err := t.Snapshot()
		if err == nil && snap != nil {
			a.logger.Debug("analysis snapshot is fresh", zap.String("thread_id", threadID))
			return &Result{Analysis: snap, Reused: true}, nil
		}
		a.logger.Warn("unreadable analysis snapshot, re-analyzing",
			zap.String("thread_id", threadID), zap.Error(err))
	}

	msgs, err := LoadMessages(ctx, a.store, threadID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := a.Analyze(ctx, msgs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := a.now().UTC()
	update := store.AnalysisUpdate{
		ThreadID:         threadID,
		Analysis:         res.Analysis,
		Version:          a.cfg.Version,
		AnalyzedAt:       now,
		TriggerMessageID: res.Trigger.ID,
	}
	if status := res.Analysis.CurrentStatus; status != "" && status != t.CurrentStatus {
		res.Changed = true
		update.HistoryEntry = &store.ThreadStatusEntry{
			Status:     status,
			Source:     res.Analysis.Source,
			Confidence: latestConfidence(res.Analysis),
			MessageID:  res.Trigger.ID,
			DetectedAt: now,
		}
	}

	if err := a.store.SaveAnalysis(ctx, update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("saving analysis: %w", err)
	}

	a.logger.Info("thread analyzed",
		zap.String("thread_id", threadID),
		zap.String("source", string(res.Analysis.Source)),
		zap.String("status", res.Analysis.CurrentStatus),
		zap.Bool("changed", res.Changed))
	return res, nil
}

func latestConfidence(a *thread.Analysis) float64 {
	var best float64
	for _, d := range a.StatusProgression {
		if d.StatusSlug == a.CurrentStatus && d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}
