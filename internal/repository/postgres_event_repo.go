package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/CoderXYZ14/syncal/internal/model"
	"github.com/lib/pq"
)

// PostgresEventRepo はPostgreSQLを使用したミラー予定リポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// Upsert は(user_id, google_event_id)をマージキーとして予定を冪等にUPSERTする。
// ON CONFLICTにより同一キーへの並行書き込みでも行が重複しない。
// 既存行の全ミラーフィールドが上書きされるため、リモートで消えた
// description/locationは空にクリアされる。
func (r *PostgresEventRepo) Upsert(ctx context.Context, event *model.MirroredEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calendar_events
		   (id, user_id, google_event_id, title, description, start_time, end_time, location, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id, google_event_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   start_time = EXCLUDED.start_time,
		   end_time = EXCLUDED.end_time,
		   location = EXCLUDED.location,
		   updated_at = EXCLUDED.updated_at`,
		event.ID, event.UserID, event.GoogleEventID, event.Title, event.Description,
		event.StartTime, event.EndTime, event.Location, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("予定のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// FindByUserAndGoogleID はマージキーで予定を検索する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByUserAndGoogleID(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error) {
	event := &model.MirroredEvent{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, google_event_id, title, description, start_time, end_time, location, created_at, updated_at
		 FROM calendar_events WHERE user_id = $1 AND google_event_id = $2`,
		userID, googleEventID,
	).Scan(
		&event.ID, &event.UserID, &event.GoogleEventID, &event.Title, &event.Description,
		&event.StartTime, &event.EndTime, &event.Location, &event.CreatedAt, &event.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予定の検索に失敗しました: %w", err)
	}

	return event, nil
}

// ListByUser はユーザーの予定一覧を開始時刻の昇順で返す。
func (r *PostgresEventRepo) ListByUser(ctx context.Context, userID string) ([]*model.MirroredEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, google_event_id, title, description, start_time, end_time, location, created_at, updated_at
		 FROM calendar_events WHERE user_id = $1 ORDER BY start_time ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("予定一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.MirroredEvent
	for rows.Next() {
		event := &model.MirroredEvent{}
		if err := rows.Scan(
			&event.ID, &event.UserID, &event.GoogleEventID, &event.Title, &event.Description,
			&event.StartTime, &event.EndTime, &event.Location, &event.CreatedAt, &event.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("予定行の読み取りに失敗しました: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予定一覧の走査に失敗しました: %w", err)
	}
	return events, nil
}

// DeleteByUserAndGoogleID はマージキーで予定を削除する。
func (r *PostgresEventRepo) DeleteByUserAndGoogleID(ctx context.Context, userID, googleEventID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calendar_events WHERE user_id = $1 AND google_event_id = $2`,
		userID, googleEventID,
	)
	if err != nil {
		return fmt.Errorf("予定の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("予定が見つかりません: %s", googleEventID)
	}
	return nil
}

// DeleteMissing は指定ユーザーの予定のうち、keepGoogleIDsに含まれない行を削除する。
func (r *PostgresEventRepo) DeleteMissing(ctx context.Context, userID string, keepGoogleIDs []string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calendar_events WHERE user_id = $1 AND google_event_id <> ALL($2)`,
		userID, pq.Array(keepGoogleIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("スナップショット外予定の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return int(rowsAffected), nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
