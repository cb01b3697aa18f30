package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/kiranshivaraju/bugnest/internal/dispatch"
	"github.com/kiranshivaraju/bugnest/internal/notice"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmail struct {
	mu   sync.Mutex
	sent []dispatch.SendEmail
	fail map[string]error
}

func (m *mockEmail) SendEmail(_ context.Context, msg dispatch.SendEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[msg.Email]; err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type webhookCall struct {
	url     string
	payload []byte
}

type mockWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	err   error
}

func (m *mockWebhook) SendWebhook(_ context.Context, url string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, webhookCall{url, payload})
	return m.err
}

type mockBrowser struct {
	mu        sync.Mutex
	projectID int64
	payload   []byte
	calls     int
}

func (m *mockBrowser) SendBrowserPush(_ context.Context, projectID int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.projectID = projectID
	m.payload = payload
	return nil
}

func testNotice() models.DispatchNotice {
	return models.DispatchNotice{
		Setting: models.NotificationSetting{
			ProjectID: 3,
			Emails: []models.EmailTarget{
				{Email: "a@example.com", Open: true},
				{Email: "b@example.com", Open: true},
				{Email: "off@example.com", Open: false},
			},
			Browser: models.BrowserTarget{Open: true},
			Webhooks: []models.WebhookTarget{
				{Type: "others", URL: "https://hooks.example.com/1", Open: true},
				{Type: "slack", URL: "https://hooks.example.com/off", Open: false},
			},
		},
		Rule:  models.NotificationRule{ID: 5, Name: "serious", Level: models.LevelSerious},
		Issue: models.Issue{ID: 12, Type: "uncaughtError", EventsCount: 2, UsersCount: 1},
		Event: models.Event{Device: models.Device{Platform: "browser"}},
	}
}

func TestDispatch_FansOutToOpenTargets(t *testing.T) {
	email, hook, browser := &mockEmail{}, &mockWebhook{}, &mockBrowser{}
	d := dispatch.NewDispatcher(notice.NewRenderer("https://bugnest.example.com"), email, hook, browser)

	errs := d.Dispatch(context.Background(), testNotice())
	assert.Empty(t, errs)

	require.Len(t, email.sent, 2)
	recipients := []string{email.sent[0].Email, email.sent[1].Email}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, recipients)
	assert.Equal(t, "[bugnest] [Issue] [Serious] uncaughtError", email.sent[0].Title)
	assert.Contains(t, email.sent[0].HTML, "<h1>")

	require.Len(t, hook.calls, 1)
	assert.Equal(t, "https://hooks.example.com/1", hook.calls[0].url)

	assert.Equal(t, 1, browser.calls)
	assert.Equal(t, int64(3), browser.projectID)
	var push map[string]any
	require.NoError(t, json.Unmarshal(browser.payload, &push))
	assert.Equal(t, "https://bugnest.example.com/issue/12/event/latest", push["link"])
	assert.Equal(t, "Events: 2 Users: 1 Time: ", push["body"])
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	boom := errors.New("mailbox full")
	email := &mockEmail{fail: map[string]error{"a@example.com": boom}}
	hook := &mockWebhook{err: errors.New("503")}
	browser := &mockBrowser{}
	d := dispatch.NewDispatcher(notice.NewRenderer("http://localhost"), email, hook, browser)

	errs := d.Dispatch(context.Background(), testNotice())
	require.Len(t, errs, 2)

	byChannel := map[string]*dispatch.DispatchError{}
	for _, e := range errs {
		byChannel[e.Channel] = e
	}
	assert.Equal(t, "a@example.com", byChannel[dispatch.ChannelEmail].Target)
	assert.ErrorIs(t, byChannel[dispatch.ChannelEmail], boom)
	assert.Equal(t, "https://hooks.example.com/1", byChannel[dispatch.ChannelWebhook].Target)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "b@example.com", email.sent[0].Email)
	assert.Equal(t, 1, browser.calls)
}

func TestDispatch_NilSendersDisableChannels(t *testing.T) {
	d := dispatch.NewDispatcher(notice.NewRenderer("http://localhost"), nil, nil, nil)
	assert.Empty(t, d.Dispatch(context.Background(), testNotice()))
}

func TestDispatch_NothingEnabled(t *testing.T) {
	email := &mockEmail{}
	d := dispatch.NewDispatcher(notice.NewRenderer("http://localhost"), email, &mockWebhook{}, &mockBrowser{})

	n := testNotice()
	n.Setting = models.NotificationSetting{ProjectID: 3}
	assert.Empty(t, d.Dispatch(context.Background(), n))
	assert.Empty(t, email.sent)
}

func TestDispatchError_Message(t *testing.T) {
	err := &dispatch.DispatchError{Channel: "webhook", Target: "https://x", Err: errors.New("status 500")}
	assert.Equal(t, "dispatch webhook to https://x: status 500", err.Error())
}

func TestWebhookPayload_Shapes(t *testing.T) {
	n := testNotice()
	c := notice.NewRenderer("http://localhost").Render(n)

	tests := []struct {
		typ   string
		check func(t *testing.T, body map[string]any)
	}{
		{"dingtalk", func(t *testing.T, body map[string]any) {
			assert.Equal(t, "markdown", body["msgtype"])
			md := body["markdown"].(map[string]any)
			assert.Equal(t, c.Title, md["title"])
			assert.Equal(t, c.Markdown, md["text"])
		}},
		{"wechat_work", func(t *testing.T, body map[string]any) {
			assert.Equal(t, c.Markdown, body["markdown"].(map[string]any)["content"])
		}},
		{"feishu", func(t *testing.T, body map[string]any) {
			assert.Equal(t, c.Text, body["content"].(map[string]any)["text"])
		}},
		{"slack", func(t *testing.T, body map[string]any) {
			assert.Contains(t, body["text"], c.Link)
		}},
		{"others", func(t *testing.T, body map[string]any) {
			assert.Equal(t, c.Title, body["title"])
			assert.Equal(t, float64(5), body["rule"].(map[string]any)["id"])
			assert.Equal(t, float64(12), body["issue"].(map[string]any)["id"])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			raw, err := dispatch.WebhookPayload(tt.typ, n, c)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			tt.check(t, body)
		})
	}
}
