package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// --- モック定義 ---

type mockSessionFinder struct {
	findFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findFn != nil {
		return m.findFn(ctx, id)
	}
	return nil, nil
}

// --- テストヘルパー ---

// serveWithSession はセッションミドルウェアを通してリクエストを処理し、
// 後続ハンドラが受け取ったユーザーIDとレスポンスを返す。
func serveWithSession(t *testing.T, finder SessionFinder, cookie *http.Cookie) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("UserIDFromContext failed inside handler: %v", err)
		}
		gotUserID = userID
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/calendar/events", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()

	NewSessionMiddleware(finder)(next).ServeHTTP(rec, req)
	return rec, gotUserID
}

// --- テスト ---

func TestSessionMiddleware_InjectsUserID(t *testing.T) {
	finder := &mockSessionFinder{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "sess-1" {
				t.Errorf("FindByID id = %q, want %q", id, "sess-1")
			}
			return &model.Session{ID: "sess-1", UserID: "user-1"}, nil
		},
	}

	rec, userID := serveWithSession(t, finder, &http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if userID != "user-1" {
		t.Errorf("user ID in context = %q, want %q", userID, "user-1")
	}
}

func TestSessionMiddleware_MissingCookie(t *testing.T) {
	rec, _ := serveWithSession(t, &mockSessionFinder{}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_UnknownSession(t *testing.T) {
	finder := &mockSessionFinder{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		},
	}

	rec, _ := serveWithSession(t, finder, &http.Cookie{Name: sessionCookieName, Value: "sess-gone"})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSessionMiddleware_FinderError(t *testing.T) {
	finder := &mockSessionFinder{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, fmt.Errorf("database is down")
		},
	}

	rec, _ := serveWithSession(t, finder, &http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
}

func TestContextWithUserID_RoundTrip(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "user-7")

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("UserIDFromContext failed: %v", err)
	}
	if userID != "user-7" {
		t.Errorf("user ID = %q, want %q", userID, "user-7")
	}
}
