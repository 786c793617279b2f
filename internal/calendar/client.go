// Package calendar はリモートカレンダープロバイダへのクライアントを提供する。
package calendar

import (
	"context"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// Client はカレンダープロバイダの操作インターフェース。
// 同期エンジンとチャネル管理はこのインターフェースのみに依存し、
// Google Calendar固有のワイヤフォーマットには触れない。
// 全メソッドはユーザーごとのベアラートークンを受け取る。
type Client interface {
	// ListUpcomingEvents は現在時刻以降の予定を開始時刻の昇順で取得する。
	// 取得件数はクライアント設定の上限で打ち切られる（ページネーションは行わない）。
	ListUpcomingEvents(ctx context.Context, accessToken string) ([]model.RemoteEvent, error)

	// CreateEvent はリモートカレンダーに予定を作成し、採番された予定を返す。
	CreateEvent(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error)

	// DeleteEvent はリモートカレンダーから予定を削除する。
	DeleteEvent(ctx context.Context, accessToken, eventID string) error

	// OpenChannel は変更通知のプッシュチャネルを開設する。
	// channelIDは呼び出し側が生成した一意な識別子、callbackURLは通知の配信先。
	OpenChannel(ctx context.Context, accessToken, channelID, callbackURL string) (*model.ChannelDescriptor, error)

	// CloseChannel はプッシュチャネルを停止する。
	CloseChannel(ctx context.Context, accessToken, channelID, resourceID string) error
}
