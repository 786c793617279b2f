// Package sync はリモートカレンダーとローカルミラーの収束アルゴリズムを提供する。
//
// Reconcile はWebhook通知とポーリングの両方から呼ばれる共有の収束エントリポイント。
// 同一スナップショットで2回実行しても保存状態は変わらず（冪等）、
// 並行するトリガーが重なっても(userID, googleEventID)キーのUPSERTにより
// 最後の書き込みが勝つだけで発散しない。
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoderXYZ14/syncal/internal/model"
	"github.com/CoderXYZ14/syncal/internal/repository"
)

// untitledPlaceholder はリモートでタイトルが欠落している予定の補完タイトル。
const untitledPlaceholder = "(無題)"

// SnapshotFetcher はリモートスナップショット取得のインターフェース。
// calendar.Clientの部分集合として定義する。
type SnapshotFetcher interface {
	// ListUpcomingEvents は現在時刻以降の予定を開始時刻の昇順で取得する。
	ListUpcomingEvents(ctx context.Context, accessToken string) ([]model.RemoteEvent, error)
}

// DescriptionSanitizer は説明文サニタイズのインターフェース。
type DescriptionSanitizer interface {
	Sanitize(raw string) string
}

// MetricsRecorder は同期メトリクス記録のインターフェース。
type MetricsRecorder interface {
	RecordReconcile(result string, duration time.Duration)
	RecordEventsUpserted(count int)
}

// Options はマージポリシーの設定。
type Options struct {
	// PruneMissing が真の場合、スナップショットに含まれない既存ミラー行を削除する。
	// 既定は偽: キャンセル済み・ウィンドウ外の予定はミラーに残る（明示的なポリシー選択）。
	PruneMissing bool
}

// Reconciler はリモートスナップショットをローカルミラーへマージする同期エンジン。
// 永続状態は持たず、EventStoreへの書き込み以外の副作用もない。
type Reconciler struct {
	fetcher   SnapshotFetcher
	eventRepo repository.EventRepository
	sanitizer DescriptionSanitizer
	metrics   MetricsRecorder
	logger    *slog.Logger
	options   Options

	// userLocks はユーザーごとにReconcileを直列化する。
	// プッシュ通知とポーリングが同一ユーザーで競合した場合、
	// 後続のトリガーは実行中のマージの完了を待ってから自分のスナップショットで実行する。
	userLocks *keyedMutex
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// metricsはnilを許容する（テストやワーカー以外の文脈用）。
func NewReconciler(
	fetcher SnapshotFetcher,
	eventRepo repository.EventRepository,
	sanitizer DescriptionSanitizer,
	metrics MetricsRecorder,
	logger *slog.Logger,
	options Options,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		fetcher:   fetcher,
		eventRepo: eventRepo,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		options:   options,
		userLocks: newKeyedMutex(),
	}
}

// Reconcile はユーザーのリモートスナップショットを取得し、ローカルミラーへマージする。
// 戻り値は処理した予定数。リモート取得失敗はPROVIDER_UNAVAILABLE、
// 書き込み失敗はSTORE_UNAVAILABLEとして呼び出し側へ伝播する。
// エンジン内部ではリトライしない: 回復はWebhook再配信か次のポーリングに委ねる。
func (r *Reconciler) Reconcile(ctx context.Context, user *model.User) (int, error) {
	if user.AccessToken == "" {
		return 0, model.NewUnauthorizedError()
	}

	r.userLocks.Lock(user.ID)
	defer r.userLocks.Unlock(user.ID)

	start := time.Now()

	snapshot, err := r.fetcher.ListUpcomingEvents(ctx, user.AccessToken)
	if err != nil {
		r.logger.Error("スナップショットの取得に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		r.recordReconcile("provider_error", time.Since(start))
		return 0, model.NewProviderUnavailableError(err.Error())
	}

	merged := 0
	skipped := 0
	keepIDs := make([]string, 0, len(snapshot))

	for _, remote := range snapshot {
		// リモートIDのない予定はマージキーを構成できないためスキップする。
		// 1件の不正な予定でバッチ全体を失敗させない。
		if remote.ID == "" {
			skipped++
			continue
		}
		keepIDs = append(keepIDs, remote.ID)

		event := r.mapRemoteEvent(user.ID, remote)
		if err := r.eventRepo.Upsert(ctx, event); err != nil {
			r.logger.Error("予定のUPSERTに失敗しました",
				slog.String("user_id", user.ID),
				slog.String("google_event_id", remote.ID),
				slog.String("error", err.Error()),
			)
			r.recordReconcile("store_error", time.Since(start))
			return merged, model.NewStoreUnavailableError(err.Error())
		}
		merged++
	}

	pruned := 0
	if r.options.PruneMissing {
		pruned, err = r.eventRepo.DeleteMissing(ctx, user.ID, keepIDs)
		if err != nil {
			r.recordReconcile("store_error", time.Since(start))
			return merged, model.NewStoreUnavailableError(err.Error())
		}
	}

	duration := time.Since(start)
	r.recordReconcile("success", duration)
	if r.metrics != nil {
		r.metrics.RecordEventsUpserted(merged)
	}

	r.logger.Info("同期が完了しました",
		slog.String("user_id", user.ID),
		slog.Int("merged", merged),
		slog.Int("skipped", skipped),
		slog.Int("pruned", pruned),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return merged, nil
}

// mapRemoteEvent はリモート予定をミラー予定へマッピングする。
// マッピングポリシー:
//   - タイトル欠落時はプレースホルダで補完する
//   - 時刻はdateTime（正確な時刻）をdate（終日）より優先する
//   - どちらも解決できない場合は現在時刻で代用する
//   - 欠落したdescription/locationは空にクリアされ、古い値は残らない
func (r *Reconciler) mapRemoteEvent(userID string, remote model.RemoteEvent) *model.MirroredEvent {
	now := time.Now()

	title := remote.Summary
	if title == "" {
		title = untitledPlaceholder
	}

	startTime, ok := remote.Start.Resolve()
	if !ok {
		startTime = now
	}
	endTime, ok := remote.End.Resolve()
	if !ok {
		endTime = now
	}

	description := remote.Description
	if r.sanitizer != nil {
		description = r.sanitizer.Sanitize(description)
	}

	return &model.MirroredEvent{
		ID:            uuid.New().String(),
		UserID:        userID,
		GoogleEventID: remote.ID,
		Title:         title,
		Description:   description,
		StartTime:     startTime,
		EndTime:       endTime,
		Location:      remote.Location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// recordReconcile は結果ラベル付きで同期の実行を記録する。
func (r *Reconciler) recordReconcile(result string, duration time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordReconcile(result, duration)
	}
}
