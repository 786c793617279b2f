package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, picture, google_id, access_token, refresh_token,
	 channel_id, channel_resource_id, channel_expiration, created_at, updated_at`

// scanUser は1行分のユーザーを読み取る。チャネル列がNULLの場合はChannelをnilにする。
func scanUser(row interface {
	Scan(dest ...any) error
}) (*model.User, error) {
	user := &model.User{}
	var channelID, resourceID sql.NullString
	var expiration sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.Picture, &user.GoogleID,
		&user.AccessToken, &user.RefreshToken,
		&channelID, &resourceID, &expiration,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if channelID.Valid {
		user.Channel = &model.ChannelDescriptor{
			ChannelID:  channelID.String,
			ResourceID: resourceID.String,
			Expiration: expiration.Time,
		}
	}

	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メールアドレスによるユーザーの検索に失敗しました: %w", err)
	}
	return user, nil
}

// FindByChannelID はアクティブなチャネルIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByChannelID(ctx context.Context, channelID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE channel_id = $1`, channelID)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャネルIDによるユーザーの検索に失敗しました: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, picture, google_id, access_token, refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, user.Picture, user.GoogleID,
		user.AccessToken, user.RefreshToken, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateTokens はサインイン時に発行されたトークンを保存する。
func (r *PostgresUserRepo) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET access_token = $2, refresh_token = $3, updated_at = NOW() WHERE id = $1`,
		userID, accessToken, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("トークンの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("ユーザーが見つかりません: %s", userID)
	}
	return nil
}

// SaveChannel はユーザーのチャネル情報を保存する。channelがnilの場合はクリアする。
func (r *PostgresUserRepo) SaveChannel(ctx context.Context, userID string, channel *model.ChannelDescriptor) error {
	var channelID, resourceID sql.NullString
	var expiration sql.NullTime
	if channel != nil {
		channelID = sql.NullString{String: channel.ChannelID, Valid: true}
		resourceID = sql.NullString{String: channel.ResourceID, Valid: true}
		expiration = sql.NullTime{Time: channel.Expiration, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET channel_id = $2, channel_resource_id = $3, channel_expiration = $4, updated_at = NOW()
		 WHERE id = $1`,
		userID, channelID, resourceID, expiration,
	)
	if err != nil {
		return fmt.Errorf("チャネル情報の保存に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("ユーザーが見つかりません: %s", userID)
	}
	return nil
}

// ListWithExpiringChannels は失効までmarginを切ったチャネルを持つユーザーを返す。
func (r *PostgresUserRepo) ListWithExpiringChannels(ctx context.Context, margin time.Duration) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE channel_id IS NOT NULL AND channel_expiration <= NOW() + $1::interval`,
		fmt.Sprintf("%d seconds", int(margin.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("失効間近チャネルの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の走査に失敗しました: %w", err)
	}
	return users, nil
}

// ListWithActiveChannels は失効していないチャネルを持つ全ユーザーを返す。
func (r *PostgresUserRepo) ListWithActiveChannels(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE channel_id IS NOT NULL AND channel_expiration > NOW()`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブチャネルの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ユーザー行の読み取りに失敗しました: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の走査に失敗しました: %w", err)
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
