// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidNotification = "INVALID_NOTIFICATION"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeEventNotFound       = "EVENT_NOT_FOUND"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidCallbackURL  = "INVALID_CALLBACK_URL"
	ErrCodeChannelSetupFailed  = "CHANNEL_SETUP_FAILED"
)

// NewUnauthorizedError は認証エラーを生成する。
// トークン未保持・無効時に返され、同期エンジンはリトライしない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Googleアカウントでログインし直してください。",
	}
}

// NewInvalidNotificationError は不正なプッシュ通知エラーを生成する。
// 必須の相関ヘッダーを欠く通知に対して返され、副作用を伴わない。
func NewInvalidNotificationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNotification,
		Message:  fmt.Sprintf("不正な通知です: %s", reason),
		Category: "validation",
		Action:   "通知の必須ヘッダーを確認してください。",
	}
}

// NewProviderUnavailableError はプロバイダ呼び出し失敗エラーを生成する。
// 次回のトリガー（Webhook再配信または次のポーリング）で回復を図る。
func NewProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("Google Calendarへのアクセスに失敗しました: %s", reason),
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreUnavailableError は永続化失敗エラーを生成する。
func NewStoreUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("予定の保存に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewEventNotFoundError は予定未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定された予定が見つかりません: %s", eventID),
		Category: "sync",
		Action:   "予定IDを確認してください。",
	}
}

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidCallbackURLError はWebhookコールバックURLの検証エラーを生成する。
func NewInvalidCallbackURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCallbackURL,
		Message:  fmt.Sprintf("コールバックURLが不正です: %s", reason),
		Category: "validation",
		Action:   "公開されているHTTPSのURLを指定してください。",
	}
}

// NewChannelSetupFailedError はチャネル開設失敗エラーを生成する。
func NewChannelSetupFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeChannelSetupFailed,
		Message:  fmt.Sprintf("プッシュ通知チャネルの開設に失敗しました: %s", reason),
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
