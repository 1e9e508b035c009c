// Package cleanup は不要になったリレーデータの定期削除ジョブを提供する。
// 猶予期間を過ぎて期限切れになったリンクトークン、期限切れのセッション、
// 保持期間を過ぎた処理済みの保留メッセージを削除する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/icore-platform/icore/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// 削除対象（icore_cleanup_deleted_totalのtargetラベル）
const (
	TargetLinkTokens      = "link_tokens"
	TargetSessions        = "sessions"
	TargetPendingMessages = "pending_messages"
)

// LinkTokenGracePeriod はリンクトークンを期限切れ後も残しておく期間。
// 消費済みトークンはこの間、再利用がLINK_TOKEN_CONSUMEDとして判定される。
const LinkTokenGracePeriod = "1 day"

// DefaultPendingRetentionDays は処理済み保留メッセージのデフォルト保持日数。
const DefaultPendingRetentionDays = 30

type task struct {
	target string
	query  string
	args   func(j *CleanupJob) []interface{}
}

var tasks = []task{
	{
		target: TargetLinkTokens,
		query:  `DELETE FROM link_tokens WHERE expires_at < now() - $1::interval`,
		args: func(j *CleanupJob) []interface{} {
			return []interface{}{LinkTokenGracePeriod}
		},
	},
	{
		target: TargetSessions,
		query:  `DELETE FROM sessions WHERE expires_at < now()`,
	},
	{
		target: TargetPendingMessages,
		query: `DELETE FROM pending_external_messages
		 WHERE processed_at IS NOT NULL AND processed_at < now() - $1::interval`,
		args: func(j *CleanupJob) []interface{} {
			return []interface{}{fmt.Sprintf("%d days", j.PendingRetentionDays)}
		},
	},
}

// CleanupJob は定期削除ジョブ。各削除は冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	db                   Executor
	logger               *slog.Logger
	metrics              metrics.MetricsCollector
	PendingRetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector, pendingRetentionDays int) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if pendingRetentionDays <= 0 {
		pendingRetentionDays = DefaultPendingRetentionDays
	}
	return &CleanupJob{
		db:                   db,
		logger:               logger,
		metrics:              collector,
		PendingRetentionDays: pendingRetentionDays,
	}
}

// Start は起動直後とintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))
	j.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// Run は全ての削除を1回ずつ実行する。
// 1つの削除が失敗しても残りは実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	total := int64(0)
	for _, t := range tasks {
		var args []interface{}
		if t.args != nil {
			args = t.args(j)
		}

		deleted, err := j.exec(ctx, t.query, args...)
		if err != nil {
			j.logger.Error("削除に失敗しました",
				slog.String("target", t.target),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%sの削除に失敗: %w", t.target, err))
			continue
		}
		j.metrics.RecordCleanupDeleted(t.target, deleted)
		total += deleted
		j.logger.Debug("削除しました",
			slog.String("target", t.target),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("pending_retention_days", j.PendingRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

func (j *CleanupJob) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}
