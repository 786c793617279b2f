// Package event は予定の参照・作成・削除のビジネスロジックを提供する。
package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoderXYZ14/syncal/internal/model"
	"github.com/CoderXYZ14/syncal/internal/repository"
)

// RemoteEventClient はリモートカレンダー操作のインターフェース。
// calendar.Clientの部分集合として定義する。
type RemoteEventClient interface {
	CreateEvent(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error
}

// Synchronizer は同期実行のインターフェース。
type Synchronizer interface {
	Reconcile(ctx context.Context, user *model.User) (int, error)
}

// Sanitizer は説明文サニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Service は予定に関するビジネスロジックを提供する。
// 参照は常に同期を先行させ、ミラーが古いまま返らないようにする。
type Service struct {
	client    RemoteEventClient
	sync      Synchronizer
	userRepo  repository.UserRepository
	eventRepo repository.EventRepository
	sanitizer Sanitizer
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	client RemoteEventClient,
	sync Synchronizer,
	userRepo repository.UserRepository,
	eventRepo repository.EventRepository,
	sanitizer Sanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:    client,
		sync:      sync,
		userRepo:  userRepo,
		eventRepo: eventRepo,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// findUser はユーザーを取得し、トークンの有無を検証する。
func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err.Error())
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.AccessToken == "" {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// List はリモートと同期してからミラーの予定一覧を返す。
// 同期の失敗は呼び出し側へ伝播する: 古いミラーを黙って返すより、失敗を可視化する。
func (s *Service) List(ctx context.Context, userID string) ([]*model.MirroredEvent, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sync.Reconcile(ctx, user); err != nil {
		return nil, err
	}

	events, err := s.eventRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err.Error())
	}
	return events, nil
}

// Create はリモートカレンダーに予定を作成し、ミラーにも反映する。
// リモート作成の成功後にミラー書き込みが失敗しても、
// 次回の同期で収束するためエラーにはしない。
func (s *Service) Create(ctx context.Context, userID string, input model.NewEventInput) (*model.MirroredEvent, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	remote, err := s.client.CreateEvent(ctx, user.AccessToken, input)
	if err != nil {
		return nil, model.NewProviderUnavailableError(err.Error())
	}

	now := time.Now()
	description := input.Description
	if s.sanitizer != nil {
		description = s.sanitizer.Sanitize(description)
	}

	event := &model.MirroredEvent{
		ID:            uuid.New().String(),
		UserID:        userID,
		GoogleEventID: remote.ID,
		Title:         input.Title,
		Description:   description,
		StartTime:     input.StartTime,
		EndTime:       input.EndTime,
		Location:      input.Location,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.eventRepo.Upsert(ctx, event); err != nil {
		s.logger.Warn("作成した予定のミラー反映に失敗しました（次回同期で収束します）",
			slog.String("user_id", userID),
			slog.String("google_event_id", remote.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("予定を作成しました",
		slog.String("user_id", userID),
		slog.String("google_event_id", remote.ID),
	)

	return event, nil
}

// Delete はリモートカレンダーとミラーの両方から予定を削除する。
// googleEventIDがミラーに存在しない場合はEVENT_NOT_FOUNDを返す。
func (s *Service) Delete(ctx context.Context, userID, googleEventID string) error {
	if googleEventID == "" {
		return model.NewValidationFailedError("eventIdが空です")
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}

	mirrored, err := s.eventRepo.FindByUserAndGoogleID(ctx, userID, googleEventID)
	if err != nil {
		return model.NewStoreUnavailableError(err.Error())
	}
	if mirrored == nil {
		return model.NewEventNotFoundError(googleEventID)
	}

	if err := s.client.DeleteEvent(ctx, user.AccessToken, googleEventID); err != nil {
		return model.NewProviderUnavailableError(err.Error())
	}

	if err := s.eventRepo.DeleteByUserAndGoogleID(ctx, userID, googleEventID); err != nil {
		return model.NewStoreUnavailableError(err.Error())
	}

	s.logger.Info("予定を削除しました",
		slog.String("user_id", userID),
		slog.String("google_event_id", googleEventID),
	)
	return nil
}

// validateInput は予定作成の入力を検証する。
func validateInput(input model.NewEventInput) error {
	if input.Title == "" {
		return model.NewValidationFailedError("タイトルが空です")
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() {
		return model.NewValidationFailedError("開始時刻と終了時刻は必須です")
	}
	if !input.EndTime.After(input.StartTime) {
		return model.NewValidationFailedError("終了時刻は開始時刻より後である必要があります")
	}
	return nil
}
