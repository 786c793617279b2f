package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/CoderXYZ14/syncal/internal/model"
)

const primaryCalendarID = "primary"

// GoogleClientConfig はGoogleClientの設定。
type GoogleClientConfig struct {
	// MaxResults は1回のスナップショット取得で取得する予定の最大件数。
	MaxResults int
	// ChannelTTL はプッシュチャネルの有効期間。プロバイダ上限は7日。
	ChannelTTL time.Duration
	// FetchTimeout はプロバイダ呼び出し1回あたりのタイムアウト。
	FetchTimeout time.Duration
}

// GoogleClient はGoogle Calendar API v3を使用したClientの実装。
// トークンはリクエストごとに受け取るため、インスタンスは全ユーザーで共有できる。
type GoogleClient struct {
	config GoogleClientConfig
}

// NewGoogleClient はGoogleClientを生成する。
func NewGoogleClient(config GoogleClientConfig) *GoogleClient {
	if config.MaxResults <= 0 {
		config.MaxResults = 50
	}
	if config.ChannelTTL <= 0 || config.ChannelTTL > 7*24*time.Hour {
		config.ChannelTTL = 7 * 24 * time.Hour
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	return &GoogleClient{config: config}
}

// service はベアラートークンからCalendar APIサービスを構築する。
func (c *GoogleClient) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return svc, nil
}

// ListUpcomingEvents は現在時刻以降の予定を開始時刻の昇順で取得する。
// 繰り返し予定は個別のインスタンスに展開される（singleEvents）。
func (c *GoogleClient) ListUpcomingEvents(ctx context.Context, accessToken string) ([]model.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Events.List(primaryCalendarID).
		TimeMin(time.Now().Format(time.RFC3339)).
		MaxResults(int64(c.config.MaxResults)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("events.list failed: %w", err)
	}

	events := make([]model.RemoteEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, toRemoteEvent(item))
	}
	return events, nil
}

// CreateEvent はリモートカレンダーに予定を作成し、採番された予定を返す。
func (c *GoogleClient) CreateEvent(ctx context.Context, accessToken string, input model.NewEventInput) (*model.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	event := &gcal.Event{
		Summary:     input.Title,
		Description: input.Description,
		Location:    input.Location,
		Start:       &gcal.EventDateTime{DateTime: input.StartTime.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: input.EndTime.Format(time.RFC3339)},
	}

	created, err := svc.Events.Insert(primaryCalendarID, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("events.insert failed: %w", err)
	}

	remote := toRemoteEvent(created)
	return &remote, nil
}

// DeleteEvent はリモートカレンダーから予定を削除する。
func (c *GoogleClient) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(primaryCalendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("events.delete failed: %w", err)
	}
	return nil
}

// OpenChannel は変更通知のプッシュチャネルを開設する。
func (c *GoogleClient) OpenChannel(ctx context.Context, accessToken, channelID, callbackURL string) (*model.ChannelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	expiration := time.Now().Add(c.config.ChannelTTL)
	channel := &gcal.Channel{
		Id:         channelID,
		Type:       "web_hook",
		Address:    callbackURL,
		Expiration: expiration.UnixMilli(),
	}

	resp, err := svc.Events.Watch(primaryCalendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("events.watch failed: %w", err)
	}

	descriptor := &model.ChannelDescriptor{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: expiration,
	}
	// プロバイダが失効時刻を調整した場合はそちらを優先する
	if resp.Expiration > 0 {
		descriptor.Expiration = time.UnixMilli(resp.Expiration)
	}
	return descriptor, nil
}

// CloseChannel はプッシュチャネルを停止する。
func (c *GoogleClient) CloseChannel(ctx context.Context, accessToken, channelID, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}

	channel := &gcal.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}
	if err := svc.Channels.Stop(channel).Context(ctx).Do(); err != nil {
		return fmt.Errorf("channels.stop failed: %w", err)
	}
	return nil
}

// toRemoteEvent はGoogle Calendar APIの予定をmodel.RemoteEventに変換する。
// タイトル補完やdateTime/dateの優先順位などのマッピングポリシーは
// 同期エンジン側の責務であり、ここでは値をそのまま写す。
func toRemoteEvent(item *gcal.Event) model.RemoteEvent {
	remote := model.RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start != nil {
		remote.Start = model.RemoteEventTime{DateTime: item.Start.DateTime, Date: item.Start.Date}
	}
	if item.End != nil {
		remote.End = model.RemoteEventTime{DateTime: item.End.DateTime, Date: item.End.Date}
	}
	return remote
}

// compile-time interface check
var _ Client = (*GoogleClient)(nil)
