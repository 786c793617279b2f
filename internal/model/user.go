// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// AccessToken/RefreshTokenはGoogleサインイン時に認証フローから付与される。
// 同期エンジンはベアラートークンとして消費するのみで、発行・更新は行わない。
type User struct {
	ID           string
	Email        string
	Name         string
	Picture      string
	GoogleID     string
	AccessToken  string
	RefreshToken string

	// Channel はアクティブなプッシュ通知チャネル。未設定の場合はnil。
	// ユーザーごとに同時にアクティブなチャネルは最大1つ（subscription.Managerの不変条件）。
	Channel *ChannelDescriptor

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelDescriptor はGoogle Calendarのプッシュ通知チャネルの識別情報を表す。
type ChannelDescriptor struct {
	// ChannelID は呼び出し側が生成するチャネル識別子。openごとに一意。
	ChannelID string
	// ResourceID はプロバイダが割り当てる監視対象リソースの識別子。
	ResourceID string
	// Expiration はチャネルの失効時刻。プロバイダの上限は7日。
	Expiration time.Time
}

// ExpiresWithin はチャネルが今からdの間に失効するかを返す。
// チャネル更新ワーカーのローテーション判定に使用する。
func (c *ChannelDescriptor) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(c.Expiration)
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
