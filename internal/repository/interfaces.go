// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByChannelID はアクティブなチャネルIDでユーザーを検索する。
	// プッシュ通知の相関解決に使用する。見つからない場合はnilを返す。
	FindByChannelID(ctx context.Context, channelID string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateTokens はサインイン時に発行されたトークンを保存する。
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string) error

	// SaveChannel はユーザーのチャネル情報を保存する。channelがnilの場合はクリアする。
	// このメソッドがチャネルフィールドの唯一の書き込み経路となる。
	SaveChannel(ctx context.Context, userID string, channel *model.ChannelDescriptor) error

	// ListWithExpiringChannels は失効までmarginを切ったチャネルを持つユーザーを返す。
	// チャネル更新ワーカーのローテーション対象の抽出に使用する。
	ListWithExpiringChannels(ctx context.Context, margin time.Duration) ([]*model.User, error)

	// ListWithActiveChannels は失効していないチャネルを持つ全ユーザーを返す。
	// ポーリングによる補完同期の対象抽出に使用する。
	ListWithActiveChannels(ctx context.Context) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// EventRepository はミラーリング済み予定の永続化インターフェース。
type EventRepository interface {
	// Upsert は(user_id, google_event_id)をマージキーとして予定を冪等にUPSERTする。
	// 既存行がある場合は全ミラーフィールドを上書きする（欠落したdescription/locationは
	// 空にクリアされ、古い値は残らない）。
	Upsert(ctx context.Context, event *model.MirroredEvent) error

	// FindByUserAndGoogleID はマージキーで予定を検索する。見つからない場合はnilを返す。
	FindByUserAndGoogleID(ctx context.Context, userID, googleEventID string) (*model.MirroredEvent, error)

	// ListByUser はユーザーの予定一覧を開始時刻の昇順で返す。
	ListByUser(ctx context.Context, userID string) ([]*model.MirroredEvent, error)

	// DeleteByUserAndGoogleID はマージキーで予定を削除する。
	// ユーザー起点の削除操作でのみ使用される（同期エンジンは削除しない）。
	DeleteByUserAndGoogleID(ctx context.Context, userID, googleEventID string) error

	// DeleteMissing は指定ユーザーの予定のうち、keepGoogleIDsに含まれない行を削除する。
	// プルーニングポリシーが有効な場合のみ同期エンジンから呼ばれる。削除件数を返す。
	DeleteMissing(ctx context.Context, userID string, keepGoogleIDs []string) (int, error)
}
