package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CoderXYZ14/syncal/internal/middleware"
	"github.com/CoderXYZ14/syncal/internal/model"
)

// EventServiceInterface は予定ハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	// List はリモートと同期してからミラーの予定一覧を返す。
	List(ctx context.Context, userID string) ([]*model.MirroredEvent, error)
	// Create はリモートカレンダーに予定を作成し、ミラーにも反映する。
	Create(ctx context.Context, userID string, input model.NewEventInput) (*model.MirroredEvent, error)
	// Delete はリモートとミラーの両方から予定を削除する。
	Delete(ctx context.Context, userID, googleEventID string) error
}

// EventHandler は予定管理のHTTPハンドラー。
type EventHandler struct {
	service EventServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface) *EventHandler {
	return &EventHandler{service: service}
}

// createEventRequest は予定作成リクエストのボディ。
type createEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Location    string    `json:"location"`
}

// eventResponse は予定のAPIレスポンス。
type eventResponse struct {
	ID            string    `json:"id"`
	GoogleEventID string    `json:"google_event_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Location      string    `json:"location"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListEvents は同期済みの予定一覧を返す。
// GET /api/calendar/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	events, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]eventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, toEventResponse(e))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": responses,
	})
}

// CreateEvent は予定作成を処理する。
// POST /api/calendar/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("リクエストボディの解析に失敗しました"))
		return
	}

	event, err := h.service.Create(r.Context(), userID, model.NewEventInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Location:    req.Location,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toEventResponse(event))
}

// DeleteEvent は予定削除を処理する。
// DELETE /api/calendar/events?eventId=xxx
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	googleEventID := r.URL.Query().Get("eventId")
	if googleEventID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationFailedError("eventIdが指定されていません"))
		return
	}

	if err := h.service.Delete(r.Context(), userID, googleEventID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toEventResponse はMirroredEventをAPIレスポンスに変換する。
func toEventResponse(e *model.MirroredEvent) eventResponse {
	return eventResponse{
		ID:            e.ID,
		GoogleEventID: e.GoogleEventID,
		Title:         e.Title,
		Description:   e.Description,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Location:      e.Location,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidNotification, model.ErrCodeValidationFailed, model.ErrCodeInvalidCallbackURL:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound, model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeStoreUnavailable:
		return http.StatusInternalServerError
	case model.ErrCodeChannelSetupFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
