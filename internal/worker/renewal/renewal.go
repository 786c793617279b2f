// Package renewal は失効が近いプッシュチャネルを巡回して付け替えるワーカーを提供する。
package renewal

import (
	"context"
	"log/slog"
	"time"

	"github.com/CoderXYZ14/syncal/internal/model"
	"github.com/CoderXYZ14/syncal/internal/subscription"
)

// ExpiringChannelLister は失効が近いチャネルを持つユーザーの列挙インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type ExpiringChannelLister interface {
	ListWithExpiringChannels(ctx context.Context, margin time.Duration) ([]*model.User, error)
}

// ChannelRotator はチャネル付け替えのインターフェース。
type ChannelRotator interface {
	Rotate(ctx context.Context, user *model.User, callbackURL string) (*model.ChannelDescriptor, error)
}

// Worker は一定間隔で失効間近のチャネルを付け替える。
// プロバイダ側のチャネルTTLは最大7日のため、放置すると通知が止まる。
// このワーカーが失効マージン内のチャネルを先回りで更新する。
type Worker struct {
	lister      ExpiringChannelLister
	rotator     ChannelRotator
	callbackURL string
	margin      time.Duration
	interval    time.Duration
	logger      *slog.Logger
}

// NewWorker はWorkerを生成する。
func NewWorker(
	lister ExpiringChannelLister,
	rotator ChannelRotator,
	callbackURL string,
	margin time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		lister:      lister,
		rotator:     rotator,
		callbackURL: callbackURL,
		margin:      margin,
		interval:    interval,
		logger:      logger,
	}
}

// Run は起動直後に1回巡回し、以降はinterval間隔で巡回を繰り返す。
// ctxのキャンセルで終了する。
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("チャネル更新ワーカーを開始します",
		slog.Duration("interval", w.interval),
		slog.Duration("margin", w.margin),
	)

	w.renewExpiring(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("チャネル更新ワーカーを停止します")
			return ctx.Err()
		case <-ticker.C:
			w.renewExpiring(ctx)
		}
	}
}

// renewExpiring は失効マージン内のチャネルを持つ全ユーザーを付け替える。
// 1ユーザーの失敗で巡回全体を止めない。
func (w *Worker) renewExpiring(ctx context.Context) {
	users, err := w.lister.ListWithExpiringChannels(ctx, w.margin)
	if err != nil {
		w.logger.Error("失効間近チャネルの列挙に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(users) == 0 {
		return
	}

	w.logger.Info("チャネルの付け替えを開始します", slog.Int("count", len(users)))

	renewed := 0
	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.rotator.Rotate(ctx, user, w.callbackURL); err != nil {
			w.logger.Error("チャネルの付け替えに失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		renewed++
	}

	w.logger.Info("チャネルの付け替えが完了しました",
		slog.Int("renewed", renewed),
		slog.Int("failed", len(users)-renewed),
	)
}

var _ ChannelRotator = (*subscription.Manager)(nil)
