// Package poller は可視性で制御されるポーリングループを提供する。
//
// プッシュ通知が欠落・遅延した場合の補完経路として、一定間隔でコールバックを
// 実行する。クライアントが非可視（バックグラウンド）の間はティックを止め、
// 可視に戻った瞬間に1回即時実行してからループを再開する。
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TickFunc はポーリング間隔ごとに実行されるコールバック。
// 実行中のエラーはコールバック側で処理する。Pollerはエラーを解釈しない。
type TickFunc func(ctx context.Context)

// Poller は単一ゴルーチンのポーリングループ。
// Start/Stop/SetVisibleは並行に呼んでも安全で、いずれも冪等。
type Poller struct {
	interval time.Duration
	tick     TickFunc
	logger   *slog.Logger

	mu      sync.Mutex
	visible bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New はPollerを生成する。初期状態は可視。
func New(interval time.Duration, tick TickFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		interval: interval,
		tick:     tick,
		logger:   logger,
		visible:  true,
	}
}

// Start はポーリングループを開始する。すでに起動済みの場合は何もしない。
// 可視状態であれば最初のティックを即時実行する。
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	p.startLocked(ctx)
}

// Stop はポーリングループを停止し、ループゴルーチンの終了を待つ。
// 起動していない場合は何もしない。
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetVisible は可視状態を更新する。
// 非可視への遷移はループを停止し、可視への復帰は即時ティック付きでループを再開する。
// 状態が変わらない呼び出しは何もしない。
func (p *Poller) SetVisible(ctx context.Context, visible bool) {
	p.mu.Lock()

	if p.visible == visible {
		p.mu.Unlock()
		return
	}
	p.visible = visible

	if !visible {
		cancel := p.cancel
		done := p.done
		p.cancel = nil
		p.done = nil
		p.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		p.logger.Debug("ポーリングを休止しました")
		return
	}

	p.startLocked(ctx)
	p.mu.Unlock()
	p.logger.Debug("ポーリングを再開しました")
}

// startLocked はループゴルーチンを起動する。p.muを保持した状態で呼ぶこと。
// 既存のループがあれば先に破棄し、二重起動を防ぐ。
func (p *Poller) startLocked(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	if !p.visible {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go p.loop(loopCtx, done)
}

// loop は即時ティックの後、interval間隔でティックを繰り返す。
// ctxのキャンセルで終了する。キャンセル後に届いたティックは実行されない。
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ティック発火とキャンセルが競合した場合はティックを破棄する
			if ctx.Err() != nil {
				return
			}
			p.tick(ctx)
		}
	}
}
