// Package subscription はプッシュ通知チャネルのライフサイクル管理を提供する。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CoderXYZ14/syncal/internal/model"
)

// ChannelClient はチャネル操作のインターフェース。
// calendar.Clientの部分集合として定義する。
type ChannelClient interface {
	OpenChannel(ctx context.Context, accessToken, channelID, callbackURL string) (*model.ChannelDescriptor, error)
	CloseChannel(ctx context.Context, accessToken, channelID, resourceID string) error
}

// ChannelSaver はチャネル情報の永続化インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type ChannelSaver interface {
	SaveChannel(ctx context.Context, userID string, channel *model.ChannelDescriptor) error
}

// CallbackValidator はコールバックURL検証のインターフェース。
// 静的検証（スキーム・非公開アドレス）と実際の到達性確認の両方を提供する。
type CallbackValidator interface {
	ValidateCallbackURL(rawURL string) error
	CheckCallbackReachable(ctx context.Context, rawURL string) error
}

// ChannelMetricsRecorder はチャネル操作メトリクス記録のインターフェース。
type ChannelMetricsRecorder interface {
	RecordChannelOpened()
	RecordChannelClosed()
}

// Manager はユーザーごとのプッシュ通知チャネルを管理する。
// 不変条件: ユーザーごとに同時にアクティブなチャネルは最大1つ。
// チャネルフィールドの書き込みはこのManagerのSaveChannel呼び出しのみが行う。
type Manager struct {
	client    ChannelClient
	saver     ChannelSaver
	validator CallbackValidator
	metrics   ChannelMetricsRecorder
	logger    *slog.Logger
}

// NewManager はManagerの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewManager(
	client ChannelClient,
	saver ChannelSaver,
	validator CallbackValidator,
	metrics ChannelMetricsRecorder,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:    client,
		saver:     saver,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
	}
}

// Open は新しいプッシュ通知チャネルを開設して返す。
// チャネルIDは開設ごとに一意となるよう、時刻成分とランダム成分を組み合わせて生成する。
// プロバイダ呼び出しが失敗した場合はユーザー状態を変更せずにエラーを返す。
// 永続化は行わない: Rotateが開設と保存の順序を管理する。
func (m *Manager) Open(ctx context.Context, user *model.User, callbackURL string) (*model.ChannelDescriptor, error) {
	if user.AccessToken == "" {
		return nil, model.NewUnauthorizedError()
	}

	if err := m.validator.ValidateCallbackURL(callbackURL); err != nil {
		return nil, model.NewInvalidCallbackURLError(err.Error())
	}

	// 到達できないエンドポイントを指すチャネルは開設しても通知が届かないため、
	// プロバイダ呼び出しの前に実際の到達性を確認する
	if err := m.validator.CheckCallbackReachable(ctx, callbackURL); err != nil {
		m.logger.Warn("コールバックURLの到達性チェックに失敗しました",
			slog.String("user_id", user.ID),
			slog.String("callback_url", callbackURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCallbackURLError(err.Error())
	}

	channelID := newChannelID()

	descriptor, err := m.client.OpenChannel(ctx, user.AccessToken, channelID, callbackURL)
	if err != nil {
		m.logger.Error("チャネルの開設に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderUnavailableError(err.Error())
	}

	if m.metrics != nil {
		m.metrics.RecordChannelOpened()
	}

	m.logger.Info("チャネルを開設しました",
		slog.String("user_id", user.ID),
		slog.String("channel_id", descriptor.ChannelID),
		slog.String("resource_id", descriptor.ResourceID),
		slog.Time("expiration", descriptor.Expiration),
	)

	return descriptor, nil
}

// Rotate は新しいチャネルを開設・永続化し、その後で旧チャネルをクローズする。
// この順序により、クローズ失敗時でも必ず有効なチャネルが保存されている。
// 旧チャネルのクローズ失敗はログに残して握りつぶす:
// 放置されたチャネルは自然失効し、害は一時的な通知の重複にとどまる。
func (m *Manager) Rotate(ctx context.Context, user *model.User, callbackURL string) (*model.ChannelDescriptor, error) {
	descriptor, err := m.Open(ctx, user, callbackURL)
	if err != nil {
		return nil, err
	}

	if err := m.saver.SaveChannel(ctx, user.ID, descriptor); err != nil {
		// 保存できなかった新チャネルは未知のチャネルとして通知を送り続けるため、
		// ベストエフォートでクローズしてから失敗を返す
		if closeErr := m.client.CloseChannel(ctx, user.AccessToken, descriptor.ChannelID, descriptor.ResourceID); closeErr != nil {
			m.logger.Warn("保存に失敗した新チャネルのクローズに失敗しました（自然失効に委ねます）",
				slog.String("user_id", user.ID),
				slog.String("channel_id", descriptor.ChannelID),
				slog.String("error", closeErr.Error()),
			)
		}
		return nil, model.NewStoreUnavailableError(err.Error())
	}

	previous := user.Channel
	user.Channel = descriptor

	if previous != nil {
		if err := m.client.CloseChannel(ctx, user.AccessToken, previous.ChannelID, previous.ResourceID); err != nil {
			m.logger.Warn("旧チャネルのクローズに失敗しました（自然失効に委ねます）",
				slog.String("user_id", user.ID),
				slog.String("channel_id", previous.ChannelID),
				slog.String("error", err.Error()),
			)
		} else if m.metrics != nil {
			m.metrics.RecordChannelClosed()
		}
	}

	return descriptor, nil
}

// Close はアクティブなチャネルを停止し、チャネル情報をクリアする。
// チャネルを持たないユーザーに対しては何もしない。
func (m *Manager) Close(ctx context.Context, user *model.User) error {
	if user.Channel == nil {
		return nil
	}

	if err := m.client.CloseChannel(ctx, user.AccessToken, user.Channel.ChannelID, user.Channel.ResourceID); err != nil {
		return model.NewProviderUnavailableError(err.Error())
	}

	if err := m.saver.SaveChannel(ctx, user.ID, nil); err != nil {
		return model.NewStoreUnavailableError(err.Error())
	}

	if m.metrics != nil {
		m.metrics.RecordChannelClosed()
	}

	user.Channel = nil
	return nil
}

// newChannelID はチャネル識別子を生成する。
// エポックミリ秒とUUIDの組み合わせにより、チャネルの生存期間内での一意性を保証する。
func newChannelID() string {
	return fmt.Sprintf("channel-%d-%s", time.Now().UnixMilli(), uuid.New().String())
}
