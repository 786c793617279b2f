package event

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// --- モック定義 ---

type mockRemoteClient struct {
	createFn func(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error)
	deleteFn func(ctx context.Context, accessToken, eventID string) error
}

func (m *mockRemoteClient) CreateEvent(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error) {
	if m.createFn != nil {
		return m.createFn(ctx, accessToken, input)
	}
	return &model.RemoteEvent{ID: "g-created"}, nil
}

func (m *mockRemoteClient) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, accessToken, eventID)
	}
	return nil
}

type mockSynchronizer struct {
	reconcileFn func(ctx context.Context, user *model.User) (int, error)
	calls       int
}

func (m *mockSynchronizer) Reconcile(ctx context.Context, user *model.User) (int, error) {
	m.calls++
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx, user)
	}
	return 0, nil
}

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByChannelID(ctx context.Context, channelID string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error { return nil }

func (m *mockUserRepo) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string) error {
	return nil
}

func (m *mockUserRepo) SaveChannel(ctx context.Context, userID string, channel *model.ChannelDescriptor) error {
	return nil
}

func (m *mockUserRepo) ListWithExpiringChannels(ctx context.Context, margin time.Duration) ([]*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) ListWithActiveChannels(ctx context.Context) ([]*model.User, error) {
	return nil, nil
}

type mockEventRepo struct {
	upsertFn   func(ctx context.Context, event *model.MirroredEvent) error
	findFn     func(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error)
	listFn     func(ctx context.Context, userID string) ([]*model.MirroredEvent, error)
	deleteFn   func(ctx context.Context, userID, googleEventID string) error
	deletedIDs []string
}

func (m *mockEventRepo) Upsert(ctx context.Context, event *model.MirroredEvent) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, event)
	}
	return nil
}

func (m *mockEventRepo) FindByUserAndGoogleID(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID, googleEventID)
	}
	return nil, nil
}

func (m *mockEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.MirroredEvent, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockEventRepo) DeleteByUserAndGoogleID(ctx context.Context, userID, googleEventID string) error {
	m.deletedIDs = append(m.deletedIDs, googleEventID)
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, googleEventID)
	}
	return nil
}

func (m *mockEventRepo) DeleteMissing(ctx context.Context, userID string, keepGoogleIDs []string) (int, error) {
	return 0, nil
}

// --- テストヘルパー ---

func activeUserRepo() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, AccessToken: "token-abc"}, nil
		},
	}
}

func validInput() model.NewEventInput {
	return model.NewEventInput{
		Title:     "打ち合わせ",
		StartTime: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
	}
}

// --- List テスト ---

func TestService_List_ReconcilesBeforeListing(t *testing.T) {
	sync := &mockSynchronizer{}
	listed := false
	repo := &mockEventRepo{
		listFn: func(ctx context.Context, userID string) ([]*model.MirroredEvent, error) {
			if sync.calls != 1 {
				t.Error("List should reconcile before reading the mirror")
			}
			listed = true
			return []*model.MirroredEvent{{GoogleEventID: "g1"}}, nil
		},
	}

	s := NewService(&mockRemoteClient{}, sync, activeUserRepo(), repo, nil, nil)
	events, err := s.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !listed {
		t.Error("mirror should be read")
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestService_List_SyncFailurePropagates(t *testing.T) {
	sync := &mockSynchronizer{
		reconcileFn: func(ctx context.Context, user *model.User) (int, error) {
			return 0, model.NewProviderUnavailableError("events.list failed")
		},
	}

	s := NewService(&mockRemoteClient{}, sync, activeUserRepo(), &mockEventRepo{}, nil, nil)
	_, err := s.List(context.Background(), "user-1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeProviderUnavailable)
	}
}

func TestService_List_UnknownUser(t *testing.T) {
	s := NewService(&mockRemoteClient{}, &mockSynchronizer{}, &mockUserRepo{}, &mockEventRepo{}, nil, nil)
	_, err := s.List(context.Background(), "user-unknown")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUserNotFound)
	}
}

// --- Create テスト ---

func TestService_Create_Success(t *testing.T) {
	var upserted *model.MirroredEvent
	repo := &mockEventRepo{
		upsertFn: func(ctx context.Context, event *model.MirroredEvent) error {
			upserted = event
			return nil
		},
	}
	client := &mockRemoteClient{
		createFn: func(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error) {
			if accessToken != "token-abc" {
				t.Errorf("accessToken = %q, want %q", accessToken, "token-abc")
			}
			return &model.RemoteEvent{ID: "g-created", Summary: input.Title}, nil
		},
	}

	s := NewService(client, &mockSynchronizer{}, activeUserRepo(), repo, nil, nil)
	event, err := s.Create(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if event.GoogleEventID != "g-created" {
		t.Errorf("GoogleEventID = %q, want %q", event.GoogleEventID, "g-created")
	}
	if upserted == nil {
		t.Fatal("event should be mirrored")
	}
	if upserted.GoogleEventID != "g-created" {
		t.Errorf("mirrored GoogleEventID = %q, want %q", upserted.GoogleEventID, "g-created")
	}
}

func TestService_Create_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input model.NewEventInput
	}{
		{
			name:  "タイトルなし",
			input: model.NewEventInput{StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)},
		},
		{
			name:  "時刻なし",
			input: model.NewEventInput{Title: "会議"},
		},
		{
			name: "終了が開始より前",
			input: model.NewEventInput{
				Title:     "会議",
				StartTime: time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(&mockRemoteClient{}, &mockSynchronizer{}, activeUserRepo(), &mockEventRepo{}, nil, nil)
			_, err := s.Create(context.Background(), "user-1", tt.input)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Code != model.ErrCodeValidationFailed {
				t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeValidationFailed)
			}
		})
	}
}

func TestService_Create_MirrorFailureIsNotFatal(t *testing.T) {
	repo := &mockEventRepo{
		upsertFn: func(ctx context.Context, event *model.MirroredEvent) error {
			return fmt.Errorf("connection reset")
		},
	}

	s := NewService(&mockRemoteClient{}, &mockSynchronizer{}, activeUserRepo(), repo, nil, nil)
	event, err := s.Create(context.Background(), "user-1", validInput())

	// リモート作成が成功していればミラー失敗はエラーにしない（次回同期で収束）
	if err != nil {
		t.Fatalf("Create should succeed despite mirror failure: %v", err)
	}
	if event == nil {
		t.Fatal("event should not be nil")
	}
}

// --- Delete テスト ---

func TestService_Delete_RemovesRemoteAndMirror(t *testing.T) {
	remoteDeleted := ""
	client := &mockRemoteClient{
		deleteFn: func(ctx context.Context, accessToken, eventID string) error {
			remoteDeleted = eventID
			return nil
		},
	}
	repo := &mockEventRepo{
		findFn: func(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error) {
			return &model.MirroredEvent{GoogleEventID: googleEventID}, nil
		},
	}

	s := NewService(client, &mockSynchronizer{}, activeUserRepo(), repo, nil, nil)
	if err := s.Delete(context.Background(), "user-1", "g1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if remoteDeleted != "g1" {
		t.Errorf("remote deleted = %q, want %q", remoteDeleted, "g1")
	}
	if len(repo.deletedIDs) != 1 || repo.deletedIDs[0] != "g1" {
		t.Errorf("mirror deleted = %v, want [g1]", repo.deletedIDs)
	}
}

func TestService_Delete_NotMirroredReturnsNotFound(t *testing.T) {
	client := &mockRemoteClient{}
	repo := &mockEventRepo{}

	s := NewService(client, &mockSynchronizer{}, activeUserRepo(), repo, nil, nil)
	err := s.Delete(context.Background(), "user-1", "g-missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeEventNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeEventNotFound)
	}
	// リモートには触れない
	if len(repo.deletedIDs) != 0 {
		t.Errorf("mirror deletions = %v, want none", repo.deletedIDs)
	}
}

func TestService_Delete_RemoteFailureKeepsMirror(t *testing.T) {
	client := &mockRemoteClient{
		deleteFn: func(ctx context.Context, accessToken, eventID string) error {
			return fmt.Errorf("events.delete failed: 503")
		},
	}
	repo := &mockEventRepo{
		findFn: func(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error) {
			return &model.MirroredEvent{GoogleEventID: googleEventID}, nil
		},
	}

	s := NewService(client, &mockSynchronizer{}, activeUserRepo(), repo, nil, nil)
	err := s.Delete(context.Background(), "user-1", "g1")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeProviderUnavailable)
	}
	if len(repo.deletedIDs) != 0 {
		t.Errorf("mirror deletions = %v, want none on remote failure", repo.deletedIDs)
	}
}
