package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/vendorflow/internal/thread"
)

// CreateThread inserts a thread.
func (s *Store) CreateThread(ctx context.Context, t *Thread) error {
	return s.conn(ctx).Create(t).Error
}

// GetThread loads a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	if err := s.conn(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "thread", id)
	}
	return &t, nil
}

// AddMessages appends messages to a thread and advances its
// last_message_at marker.
func (s *Store) AddMessages(ctx context.Context, threadID string, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.Transaction(ctx, func(tx *Store) error {
		latest := msgs[0].SentAt.UTC()
		for _, m := range msgs {
			m.ThreadID = threadID
			m.SentAt = m.SentAt.UTC()
			if m.SentAt.After(latest) {
				latest = m.SentAt
			}
		}
		if err := tx.conn(ctx).Create(&msgs).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}
		res := tx.conn(ctx).Model(&Thread{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", threadID, latest).
			Update("last_message_at", latest)
		return res.Error
	})
}

// ListMessages returns a thread's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var msgs []Message
	err := s.conn(ctx).
		Where("thread_id = ?", threadID).
		Order("sent_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}

// AnalysisUpdate is the result of one analysis pass.
type AnalysisUpdate struct {
	ThreadID   string
	Analysis   *thread.Analysis
	Version    string
	AnalyzedAt time.Time
	// TriggerMessageID, when set, is annotated with the detected status.
	TriggerMessageID string
	// HistoryEntry, when set, is appended to the thread's status history.
	HistoryEntry *ThreadStatusEntry
}

// SaveAnalysis persists an analysis snapshot and, when a status was
// detected, the thread's cached status and message annotation.
func (s *Store) SaveAnalysis(ctx context.Context, u AnalysisUpdate) error {
	snapshot, err := json.Marshal(u.Analysis)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}

	return s.Transaction(ctx, func(tx *Store) error {
		var t Thread
		err := tx.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&t, "id = ?", u.ThreadID).Error
		if err != nil {
			return notFound(err, "thread", u.ThreadID)
		}

		updates := map[string]any{
			"analysis":         datatypes.JSON(snapshot),
			"analysis_version": u.Version,
			"last_analyzed_at": u.AnalyzedAt.UTC(),
		}
		if u.Analysis != nil && u.Analysis.CurrentStatus != "" {
			updates["current_status"] = u.Analysis.CurrentStatus
		}
		if u.HistoryEntry != nil {
			history := append([]ThreadStatusEntry(t.StatusHistory), *u.HistoryEntry)
			updates["status_history"] = datatypes.NewJSONSlice(history)
		}
		if err := tx.conn(ctx).Model(&Thread{}).Where("id = ?", u.ThreadID).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating thread: %w", err)
		}

		if u.TriggerMessageID != "" && u.Analysis != nil && u.Analysis.CurrentStatus != "" {
			err := tx.conn(ctx).Model(&Message{}).
				Where("id = ? AND thread_id = ?", u.TriggerMessageID, u.ThreadID).
				Update("detected_status", u.Analysis.CurrentStatus).Error
			if err != nil {
				return fmt.Errorf("annotating message: %w", err)
			}
		}
		return nil
	})
}

// LinkThreadProject records the thread's project and back-fills every
// message that has no project yet. It returns the number of messages
// back-filled.
func (s *Store) LinkThreadProject(ctx context.Context, threadID, projectID string, confidence float64, method LinkMethod) (int64, error) {
	var filled int64
	err := s.Transaction(ctx, func(tx *Store) error {
		res := tx.conn(ctx).Model(&Thread{}).Where("id = ?", threadID).Updates(map[string]any{
			"detected_project_id": projectID,
			"project_confidence":  confidence,
			"project_link_method": method,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}

		res = tx.conn(ctx).Model(&Message{}).
			Where("thread_id = ? AND project_id IS NULL", threadID).
			Updates(map[string]any{
				"project_id":          projectID,
				"project_link_method": method,
			})
		filled = res.RowsAffected
		return res.Error
	})
	return filled, err
}

// StaleThreadIDs returns threads that were never analyzed, received
// messages after their last analysis, or were analyzed under another
// version.
func (s *Store) StaleThreadIDs(ctx context.Context, version string, limit int) ([]string, error) {
	var ids []string
	q := s.conn(ctx).Model(&Thread{}).
		Where("last_analyzed_at IS NULL OR analysis_version <> ? OR (last_message_at IS NOT NULL AND last_message_at > last_analyzed_at)", version).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}
