package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/CoderXYZ14/syncal/internal/middleware"
	"github.com/CoderXYZ14/syncal/internal/model"
	"github.com/CoderXYZ14/syncal/internal/repository"
)

// ChannelManagerInterface はチャネルハンドラーが必要とする管理インターフェース。
type ChannelManagerInterface interface {
	// Rotate は新しいチャネルを開設・永続化し、旧チャネルをクローズする。
	Rotate(ctx context.Context, user *model.User, callbackURL string) (*model.ChannelDescriptor, error)
	// Close はアクティブなチャネルを停止する。
	Close(ctx context.Context, user *model.User) error
}

// ChannelHandler はプッシュ通知チャネル管理のHTTPハンドラー。
type ChannelHandler struct {
	manager     ChannelManagerInterface
	userRepo    repository.UserRepository
	callbackURL string
}

// NewChannelHandler はChannelHandlerを生成する。
func NewChannelHandler(manager ChannelManagerInterface, userRepo repository.UserRepository, callbackURL string) *ChannelHandler {
	return &ChannelHandler{
		manager:     manager,
		userRepo:    userRepo,
		callbackURL: callbackURL,
	}
}

// channelResponse はチャネル情報のAPIレスポンス。
type channelResponse struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
}

// currentUser はコンテキストのユーザーIDからユーザーを取得する。
func (h *ChannelHandler) currentUser(r *http.Request) (*model.User, *model.APIError) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := h.userRepo.FindByID(r.Context(), userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err.Error())
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Setup は現在のユーザーのプッシュ通知チャネルを開設する。
// 既存チャネルがある場合は付け替える（同時にアクティブなチャネルは常に最大1つ）。
// POST /api/calendar/webhook/setup
func (h *ChannelHandler) Setup(w http.ResponseWriter, r *http.Request) {
	user, apiErr := h.currentUser(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	descriptor, err := h.manager.Rotate(r.Context(), user, h.callbackURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(channelResponse{
		ChannelID:  descriptor.ChannelID,
		ResourceID: descriptor.ResourceID,
		Expiration: descriptor.Expiration,
	})
}

// Stop は現在のユーザーのプッシュ通知チャネルを停止する。
// チャネルを持たない場合も204を返す（冪等）。
// POST /api/calendar/webhook/stop
func (h *ChannelHandler) Stop(w http.ResponseWriter, r *http.Request) {
	user, apiErr := h.currentUser(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if err := h.manager.Close(r.Context(), user); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
