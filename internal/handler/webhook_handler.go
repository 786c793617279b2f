// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// Google Calendar プッシュ通知のヘッダー名。
const (
	headerChannelID     = "X-Goog-Channel-Id"
	headerResourceID    = "X-Goog-Resource-Id"
	headerResourceState = "X-Goog-Resource-State"
)

// 通知のリソース状態。sync は開設確認、exists / not_exists は変更通知。
// いずれも「リモートに変化があった」という事実以上の情報を持たないため、
// 同じ同期処理をトリガーする。
const (
	resourceStateSync      = "sync"
	resourceStateExists    = "exists"
	resourceStateNotExists = "not_exists"
)

// ChannelUserFinder はチャネルIDからユーザーを特定するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type ChannelUserFinder interface {
	FindByChannelID(ctx context.Context, channelID string) (*model.User, error)
}

// Synchronizer は同期実行のインターフェース。
type Synchronizer interface {
	Reconcile(ctx context.Context, user *model.User) (int, error)
}

// WebhookMetricsRecorder はWebhook受信メトリクス記録のインターフェース。
type WebhookMetricsRecorder interface {
	RecordWebhookReceived(state string)
}

// WebhookHandler はカレンダープロバイダからのプッシュ通知を処理する。
type WebhookHandler struct {
	userFinder ChannelUserFinder
	sync       Synchronizer
	metrics    WebhookMetricsRecorder
	logger     *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。metricsはnilを許容する。
func NewWebhookHandler(userFinder ChannelUserFinder, sync Synchronizer, metrics WebhookMetricsRecorder, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		userFinder: userFinder,
		sync:       sync,
		metrics:    metrics,
		logger:     logger,
	}
}

// Receive はプッシュ通知を分類し、対応するユーザーの同期をトリガーする。
// POST /api/webhook/calendar
//
// レスポンスの方針:
//   - 必須ヘッダー欠落: 400（不正なリクエストは再配信させない）
//   - 未知のチャネルID: 200（チャネル付け替え直後の旧チャネル通知は正常系）
//   - トークン未保持のユーザー: 200（同期せずスキップ）
//   - 同期の失敗: 500（プロバイダに再配信させ、回復の機会を得る）
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	state := r.Header.Get(headerResourceState)

	if channelID == "" || state == "" {
		h.logger.Warn("必須ヘッダーを欠いた通知を受信しました",
			slog.String("channel_id", channelID),
			slog.String("resource_state", state),
		)
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidNotificationError("必須ヘッダーがありません"))
		return
	}

	if h.metrics != nil {
		h.metrics.RecordWebhookReceived(state)
	}

	switch state {
	case resourceStateSync, resourceStateExists, resourceStateNotExists:
	default:
		// 未知の状態は将来のプロトコル拡張の可能性があるため、確認応答だけ返す
		h.logger.Info("未知のリソース状態の通知を無視します",
			slog.String("channel_id", channelID),
			slog.String("resource_state", state),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	user, err := h.userFinder.FindByChannelID(r.Context(), channelID)
	if err != nil {
		h.logger.Error("チャネルIDからのユーザー特定に失敗しました",
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewStoreUnavailableError(err.Error()))
		return
	}
	if user == nil {
		// 付け替え済みの旧チャネルからの通知。状態は変更しない。
		h.logger.Info("未知のチャネルからの通知を無視します",
			slog.String("channel_id", channelID),
			slog.String("resource_state", state),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	if user.AccessToken == "" {
		h.logger.Warn("トークン未保持のユーザーへの通知をスキップします",
			slog.String("user_id", user.ID),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	merged, err := h.sync.Reconcile(r.Context(), user)
	if err != nil {
		h.logger.Error("通知起点の同期に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	h.logger.Info("通知起点の同期が完了しました",
		slog.String("user_id", user.ID),
		slog.String("resource_state", state),
		slog.Int("merged", merged),
	)
	w.WriteHeader(http.StatusOK)
}

// Challenge は購読確認のチャレンジに応答する。
// GET /api/webhook/calendar?hub.challenge=xxx
// チャレンジ値をそのままtext/plainで返す。値がない場合は死活応答をJSONで返す。
func (h *WebhookHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("hub.challenge")
	if challenge != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
