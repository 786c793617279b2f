package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// --- モック定義 ---

// mockFetcher はSnapshotFetcherのモック実装。
type mockFetcher struct {
	listFn func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error)
}

func (m *mockFetcher) ListUpcomingEvents(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
	if m.listFn != nil {
		return m.listFn(ctx, accessToken)
	}
	return nil, nil
}

// memEventRepo はインメモリのEventRepository実装。
// マージキー(userID, googleEventID)でのUPSERTセマンティクスを再現する。
type memEventRepo struct {
	mu       gosync.Mutex
	events   map[string]*model.MirroredEvent
	upsertFn func(ctx context.Context, event *model.MirroredEvent) error
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: make(map[string]*model.MirroredEvent)}
}

func mergeKey(userID, googleEventID string) string {
	return userID + "/" + googleEventID
}

func (r *memEventRepo) Upsert(ctx context.Context, event *model.MirroredEvent) error {
	if r.upsertFn != nil {
		if err := r.upsertFn(ctx, event); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := mergeKey(event.UserID, event.GoogleEventID)
	if existing, ok := r.events[key]; ok {
		// 既存行のIDとCreatedAtは維持し、ミラーフィールドだけ上書きする
		updated := *event
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		r.events[key] = &updated
		return nil
	}
	copied := *event
	r.events[key] = &copied
	return nil
}

func (r *memEventRepo) FindByUserAndGoogleID(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.events[mergeKey(userID, googleEventID)]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, nil
}

func (r *memEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.MirroredEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.MirroredEvent
	for key, e := range r.events {
		if strings.HasPrefix(key, userID+"/") {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (r *memEventRepo) DeleteByUserAndGoogleID(ctx context.Context, userID, googleEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, mergeKey(userID, googleEventID))
	return nil
}

func (r *memEventRepo) DeleteMissing(ctx context.Context, userID string, keepGoogleIDs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make(map[string]bool, len(keepGoogleIDs))
	for _, id := range keepGoogleIDs {
		keep[mergeKey(userID, id)] = true
	}
	deleted := 0
	for key := range r.events {
		if strings.HasPrefix(key, userID+"/") && !keep[key] {
			delete(r.events, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *memEventRepo) get(userID, googleEventID string) *model.MirroredEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[mergeKey(userID, googleEventID)]
}

// --- テストヘルパー ---

func testUser() *model.User {
	return &model.User{
		ID:          "user-1",
		Email:       "taro@example.com",
		AccessToken: "token-abc",
	}
}

func remoteEvent(id, summary string) model.RemoteEvent {
	return model.RemoteEvent{
		ID:      id,
		Summary: summary,
		Start:   model.RemoteEventTime{DateTime: "2026-09-01T10:00:00Z"},
		End:     model.RemoteEventTime{DateTime: "2026-09-01T11:00:00Z"},
	}
}

func newTestReconciler(fetcher SnapshotFetcher, repo *memEventRepo, options Options) *Reconciler {
	return NewReconciler(fetcher, repo, nil, nil, nil, options)
}

// --- Reconcile テスト ---

func TestReconcile_MergesSnapshot(t *testing.T) {
	repo := newMemEventRepo()
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			if accessToken != "token-abc" {
				t.Errorf("accessToken = %q, want %q", accessToken, "token-abc")
			}
			return []model.RemoteEvent{
				remoteEvent("g1", "会議"),
				remoteEvent("g2", "ランチ"),
			}, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	merged, err := r.Reconcile(context.Background(), testUser())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if merged != 2 {
		t.Errorf("merged = %d, want 2", merged)
	}
	if repo.count() != 2 {
		t.Errorf("stored events = %d, want 2", repo.count())
	}

	got := repo.get("user-1", "g1")
	if got == nil {
		t.Fatal("event g1 not stored")
	}
	if got.Title != "会議" {
		t.Errorf("Title = %q, want %q", got.Title, "会議")
	}
}

func TestReconcile_IsIdempotent(t *testing.T) {
	repo := newMemEventRepo()
	snapshot := []model.RemoteEvent{
		remoteEvent("g1", "会議"),
		remoteEvent("g2", "ランチ"),
	}
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return snapshot, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	user := testUser()

	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	firstID := repo.get("user-1", "g1").ID

	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}

	// 同一スナップショットの再実行で行が増えない
	if repo.count() != 2 {
		t.Errorf("stored events = %d, want 2", repo.count())
	}
	// 既存行のIDは保持される（新規行への差し替えではなくUPSERT）
	if repo.get("user-1", "g1").ID != firstID {
		t.Error("row identity changed on re-reconcile")
	}
}

func TestReconcile_UpdatesChangedFields(t *testing.T) {
	repo := newMemEventRepo()
	first := remoteEvent("g1", "会議")
	first.Description = "議題あり"
	first.Location = "会議室A"

	snapshot := []model.RemoteEvent{first}
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return snapshot, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	user := testUser()
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// リモートでdescriptionとlocationが消えた場合、古い値は残らない
	second := remoteEvent("g1", "会議（更新）")
	snapshot[0] = second
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := repo.get("user-1", "g1")
	if got.Title != "会議（更新）" {
		t.Errorf("Title = %q, want %q", got.Title, "会議（更新）")
	}
	if got.Description != "" {
		t.Errorf("Description = %q, want empty", got.Description)
	}
	if got.Location != "" {
		t.Errorf("Location = %q, want empty", got.Location)
	}
}

func TestReconcile_SkipsEventsWithoutRemoteID(t *testing.T) {
	repo := newMemEventRepo()
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return []model.RemoteEvent{
				remoteEvent("g1", "有効1"),
				remoteEvent("", "ID欠落"),
				remoteEvent("g3", "有効2"),
			}, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	merged, err := r.Reconcile(context.Background(), testUser())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// 不正な1件はスキップされ、残り2件はマージされる
	if merged != 2 {
		t.Errorf("merged = %d, want 2", merged)
	}
	if repo.count() != 2 {
		t.Errorf("stored events = %d, want 2", repo.count())
	}
}

func TestReconcile_FillsMissingTitleAndTimes(t *testing.T) {
	repo := newMemEventRepo()
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return []model.RemoteEvent{
				{ID: "g1"},
			}, nil
		},
	}

	before := time.Now()
	r := newTestReconciler(fetcher, repo, Options{})
	if _, err := r.Reconcile(context.Background(), testUser()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := repo.get("user-1", "g1")
	if got.Title != "(無題)" {
		t.Errorf("Title = %q, want %q", got.Title, "(無題)")
	}
	if got.StartTime.Before(before) {
		t.Error("missing start time should fall back to current time")
	}
}

func TestReconcile_PrefersDateTimeOverDate(t *testing.T) {
	repo := newMemEventRepo()
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return []model.RemoteEvent{
				{
					ID:      "g1",
					Summary: "両方あり",
					Start:   model.RemoteEventTime{DateTime: "2026-09-01T10:00:00Z", Date: "2026-08-31"},
					End:     model.RemoteEventTime{Date: "2026-09-02"},
				},
			}, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	if _, err := r.Reconcile(context.Background(), testUser()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	got := repo.get("user-1", "g1")
	wantStart := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !got.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, wantStart)
	}
	wantEnd := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	if !got.EndTime.Equal(wantEnd) {
		t.Errorf("EndTime = %v, want %v", got.EndTime, wantEnd)
	}
}

func TestReconcile_RequiresAccessToken(t *testing.T) {
	r := newTestReconciler(&mockFetcher{}, newMemEventRepo(), Options{})

	user := testUser()
	user.AccessToken = ""

	_, err := r.Reconcile(context.Background(), user)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeUnauthorized {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUnauthorized)
	}
}

func TestReconcile_ProviderFailure(t *testing.T) {
	repo := newMemEventRepo()
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return nil, fmt.Errorf("events.list failed: 503")
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	_, err := r.Reconcile(context.Background(), testUser())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeProviderUnavailable)
	}
	// 取得失敗時はミラーに触れない
	if repo.count() != 0 {
		t.Errorf("stored events = %d, want 0", repo.count())
	}
}

func TestReconcile_StoreFailure(t *testing.T) {
	repo := newMemEventRepo()
	repo.upsertFn = func(ctx context.Context, event *model.MirroredEvent) error {
		if event.GoogleEventID == "g2" {
			return fmt.Errorf("connection reset")
		}
		return nil
	}
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return []model.RemoteEvent{
				remoteEvent("g1", "成功する"),
				remoteEvent("g2", "失敗する"),
			}, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	merged, err := r.Reconcile(context.Background(), testUser())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeStoreUnavailable)
	}
	// 失敗前にマージした件数が返る
	if merged != 1 {
		t.Errorf("merged = %d, want 1", merged)
	}
}

func TestReconcile_PruneMissingDisabledByDefault(t *testing.T) {
	repo := newMemEventRepo()
	snapshot := []model.RemoteEvent{remoteEvent("g1", "残る"), remoteEvent("g2", "消える")}
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return snapshot, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	user := testUser()
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	// スナップショットからg2が消えても、既定ではミラーに残る
	snapshot = snapshot[:1]
	fetcher.listFn = func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
		return snapshot, nil
	}
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if repo.count() != 2 {
		t.Errorf("stored events = %d, want 2 (no pruning by default)", repo.count())
	}
}

func TestReconcile_PruneMissingEnabled(t *testing.T) {
	repo := newMemEventRepo()
	snapshot := []model.RemoteEvent{remoteEvent("g1", "残る"), remoteEvent("g2", "消える")}
	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			return snapshot, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{PruneMissing: true})
	user := testUser()
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	snapshot = snapshot[:1]
	fetcher.listFn = func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
		return snapshot, nil
	}
	if _, err := r.Reconcile(context.Background(), user); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if repo.count() != 1 {
		t.Errorf("stored events = %d, want 1 (pruned)", repo.count())
	}
	if repo.get("user-1", "g1") == nil {
		t.Error("event g1 should survive pruning")
	}
}

func TestReconcile_SerializesPerUser(t *testing.T) {
	repo := newMemEventRepo()

	var mu gosync.Mutex
	active := 0
	maxActive := 0

	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return []model.RemoteEvent{remoteEvent("g1", "会議")}, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})
	user := testUser()

	var wg gosync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Reconcile(context.Background(), user); err != nil {
				t.Errorf("Reconcile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// 同一ユーザーの同期は直列化され、並行実行されない
	if maxActive != 1 {
		t.Errorf("max concurrent reconciles = %d, want 1", maxActive)
	}
	if repo.count() != 1 {
		t.Errorf("stored events = %d, want 1", repo.count())
	}
}

func TestReconcile_AllowsConcurrentDifferentUsers(t *testing.T) {
	repo := newMemEventRepo()

	started := make(chan string, 2)
	release := make(chan struct{})

	fetcher := &mockFetcher{
		listFn: func(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
			started <- accessToken
			<-release
			return nil, nil
		},
	}

	r := newTestReconciler(fetcher, repo, Options{})

	userA := &model.User{ID: "user-a", AccessToken: "token-a"}
	userB := &model.User{ID: "user-b", AccessToken: "token-b"}

	var wg gosync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Reconcile(context.Background(), userA)
	}()
	go func() {
		defer wg.Done()
		r.Reconcile(context.Background(), userB)
	}()

	// 両ユーザーのフェッチが同時に開始できる（ユーザー間はブロックしない）
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("concurrent reconcile for different users blocked")
		}
	}
	close(release)
	wg.Wait()
}
