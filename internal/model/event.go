// Package model はドメインモデルを定義する。
package model

import "time"

// MirroredEvent はローカルにミラーリングされたカレンダー予定を表す。
// (UserID, GoogleEventID) が一意なマージキーであり、
// 同期エンジンのUPSERTにおける冪等性の基盤となる。
type MirroredEvent struct {
	ID            string
	UserID        string
	GoogleEventID string
	Title         string
	Description   string // サニタイズ済み
	StartTime     time.Time
	EndTime       time.Time
	Location      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemoteEvent はプロバイダから取得した未保存の予定データを表す。
// フィールドはGoogle Calendar APIのレスポンスをそのまま写し、
// マッピングポリシー（タイトル補完、dateTime優先等）は同期エンジン側で適用する。
type RemoteEvent struct {
	// ID はプロバイダ側の予定識別子。空の場合はマージキーを構成できないため
	// 同期エンジンはその予定をスキップする。
	ID          string
	Summary     string
	Description string
	Location    string
	Start       RemoteEventTime
	End         RemoteEventTime
}

// RemoteEventTime は予定の開始・終了時刻を表す。
// 通常の予定はDateTime、終日予定はDateのみが設定される。
type RemoteEventTime struct {
	// DateTime はRFC 3339形式のタイムスタンプ。
	DateTime string
	// Date は終日予定の日付（YYYY-MM-DD）。
	Date string
}

// Resolve は時刻表現をtime.Timeに解決する。
// DateTimeとDateの両方が存在する場合はDateTimeを優先する。
// どちらも解釈できない場合はゼロ値とfalseを返す。
func (t RemoteEventTime) Resolve() (time.Time, bool) {
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return parsed, true
		}
	}
	if t.Date != "" {
		if parsed, err := time.Parse("2006-01-02", t.Date); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// NewEventInput は予定作成APIの入力を表す。
type NewEventInput struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Location    string
}
