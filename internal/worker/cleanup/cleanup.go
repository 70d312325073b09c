// Package cleanup は期限切れ認証セッションの自動削除ジョブを提供する。
// 有効性は読み取り時に判定されるため、このジョブはストレージの肥大化を防ぐだけで
// 認証結果には影響しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/farha/internal/metrics"
)

// DefaultRetention は期限切れセッションを削除せずに保持する期間。
// 0の場合は期限切れになった時点で削除対象となる。
const DefaultRetention time.Duration = 0

// SessionPurger は期限切れセッションの一括削除を抽象化するインターフェース。
// repository.SessionRepository が満たす。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	purger    SessionPurger
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	Retention time.Duration // expires_at からの保持期間（デフォルト: 0）
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger SessionPurger, mc metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		purger:    purger,
		metrics:   mc,
		logger:    logger,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run は expires_at < now - Retention のセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	deleted, err := j.purger.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordSessionsPurged(deleted)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// 失敗はRun内でログ済み。次のティックで再試行する
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
