package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTranscriptRetention = 30 * 24 * time.Hour
	DefaultJanitorInterval     = time.Hour
)

// RunJanitor prunes old transcripts every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, retention, interval time.Duration) error {
	if retention <= 0 {
		retention = DefaultTranscriptRetention
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.PruneTranscripts(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				s.log.Warn("prune transcripts", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("pruned transcripts", zap.Int64("conversations", n))
			}
		}
	}
}

// PruneTranscripts deletes conversations, and their messages, idle since before cutoff.
func (s *Service) PruneTranscripts(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN (SELECT id FROM conversations WHERE updated_at < ?)`, cutoff,
	); err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruned rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}
