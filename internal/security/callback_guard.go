// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// CallbackGuardService はWebhookコールバックURLの検証機能のインターフェースを定義する。
// Google Calendarのプッシュ通知は公開されたHTTPSエンドポイントにしか配信されないため、
// チャネル開設前にコールバックURLを検証する。
type CallbackGuardService interface {
	// ValidateCallbackURL はコールバックURLの安全性と到達可能性要件を検証する。
	// HTTPS以外のスキーム、プライベート・ループバック・リンクローカルIP、
	// localhost等の非公開ホストはエラーを返す。
	ValidateCallbackURL(rawURL string) error

	// CheckCallbackReachable はコールバックURLへ実際にリクエストを送り、
	// 到達可能であることを確認する。チャネル開設前の事前到達性チェックとして使用する。
	// リクエストはSSRF防止クライアントを経由するため、DNS解決後のIPが
	// 非公開アドレスに向く場合もエラーになる。
	CheckCallbackReachable(ctx context.Context, rawURL string) error

	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリがnet.DialerのControlフックでDNS解決後のIPアドレスを
	// 検証するため、DNS再バインディング攻撃にも対応している。
	NewSafeClient(timeout time.Duration) *http.Client
}

// reachabilityTimeout は事前到達性チェックのタイムアウト。
const reachabilityTimeout = 5 * time.Second

// blockedNetworks は非公開と見なすネットワーク範囲。
// パッケージ初期化時に1回だけパースし、ValidateCallbackURLでの検証に使用する。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// callbackGuard はCallbackGuardServiceの実装。
type callbackGuard struct{}

// NewCallbackGuard はCallbackGuardServiceの新しいインスタンスを生成する。
func NewCallbackGuard() *callbackGuard {
	return &callbackGuard{}
}

// ValidateCallbackURL はコールバックURLの安全性と到達可能性要件を検証する。
// DNS解決を伴わない静的な検証を行う。チャネル開設リクエストを
// プロバイダに送信する前の事前チェックとして使用する。
func (g *callbackGuard) ValidateCallbackURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// スキーム検証: プロバイダはHTTPSにしか配信しない
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("callback URL must use https, got scheme: %s", parsed.Scheme)
	}

	// ホスト検証: 空ホストを拒否
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	// IPアドレスの場合: 非公開CIDRとの照合
	ip := net.ParseIP(host)
	if ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("callback host is not publicly reachable: %s", ip.String())
		}
		return nil
	}

	// ホスト名の場合: localhost等の非公開ホスト名を拒否
	if isBlockedHostname(host) {
		return fmt.Errorf("callback host is not publicly reachable: %s", host)
	}

	return nil
}

// CheckCallbackReachable はコールバックURLへ実際にリクエストを送り、
// 到達可能であることを確認する。
// プロバイダは到達できないエンドポイントへのチャネル開設を受け付けるため、
// 開設前にこちらで検出する。5xx応答はエンドポイント異常としてエラーを返す。
func (g *callbackGuard) CheckCallbackReachable(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	client := g.NewSafeClient(reachabilityTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("callback URL is not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("callback URL returned status %d", resp.StatusCode)
	}
	return nil
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *callbackGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// isBlockedIP はIPアドレスが非公開ネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostnames は非公開と見なすホスト名。
var blockedHostnames = []string{
	"localhost",
}

// isBlockedHostname はホスト名が非公開と見なされるかを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, blocked := range blockedHostnames {
		if lower == blocked {
			return true
		}
	}
	return false
}
