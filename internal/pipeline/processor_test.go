package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/config"
	"github.com/kiranshivaraju/bugnest/internal/dispatch"
	"github.com/kiranshivaraju/bugnest/internal/issue"
	"github.com/kiranshivaraju/bugnest/internal/notice"
	"github.com/kiranshivaraju/bugnest/internal/notify"
	"github.com/kiranshivaraju/bugnest/internal/pipeline"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeProjects struct{}

func (fakeProjects) GetProjectByAPIKey(_ context.Context, apiKey string) (*models.Project, error) {
	if apiKey != "key" {
		return nil, store.ErrNotFound
	}
	return &models.Project{ID: 1, APIKey: apiKey}, nil
}

type memoryIssues struct {
	mu     sync.Mutex
	byFP   map[string]*models.Issue
	nextID int64
	events int
	err    error
}

func newMemoryIssues() *memoryIssues {
	return &memoryIssues{byFP: map[string]*models.Issue{}}
}

func (m *memoryIssues) FindIssueByFingerprint(_ context.Context, apiKey, fp string) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	iss, ok := m.byFP[apiKey+"/"+fp]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *iss
	cp.Users = append([]string(nil), iss.Users...)
	return &cp, nil
}

func (m *memoryIssues) SaveIssue(_ context.Context, iss *models.Issue, event *models.Event) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if iss.ID == 0 {
		m.nextID++
		iss.ID = m.nextID
	}
	cp := *iss
	m.byFP[iss.APIKey+"/"+iss.Fingerprint] = &cp
	event.IssueID = iss.ID
	m.events++
	return iss, nil
}

type fakeRules struct {
	rules   []*models.NotificationRule
	setting *models.NotificationSetting
	err     error
}

func (f *fakeRules) ListOpenRules(context.Context, int64) ([]*models.NotificationRule, error) {
	return f.rules, f.err
}

func (f *fakeRules) GetSetting(_ context.Context, projectID int64) (*models.NotificationSetting, error) {
	if f.setting == nil {
		return notify.DefaultSetting(projectID), nil
	}
	return f.setting, nil
}

type recordingWebhook struct {
	mu    sync.Mutex
	count int
	err   error
}

func (r *recordingWebhook) SendWebhook(context.Context, string, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.err
}

func (r *recordingWebhook) sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// --- setup ---

type harness struct {
	proc    *pipeline.Processor
	issues  *memoryIssues
	rules   *fakeRules
	webhook *recordingWebhook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	issues := newMemoryIssues()
	rules := &fakeRules{
		rules: []*models.NotificationRule{{ID: 1, Name: "serious", Level: models.LevelSerious, Interval: 3600, Open: true}},
		setting: &models.NotificationSetting{
			ProjectID: 1,
			Webhooks:  []models.WebhookTarget{{Type: "others", URL: "https://hooks.example.com/x", Open: true}},
		},
	}
	hook := &recordingWebhook{}
	proc := pipeline.NewProcessor(
		fakeProjects{},
		issue.NewAggregator(issues, issue.NewKeyedMutex(), time.Second),
		issue.NewSeverityPolicy([]string{"uncaughtError"}, []string{"ajaxError"}),
		rules,
		notify.NewMatcher(notify.NewMemorySilenceStore()),
		dispatch.NewDispatcher(notice.NewRenderer("http://localhost"), nil, hook, nil),
		config.PipelineConfig{AggregateTimeout: time.Second, DispatchTimeout: time.Second},
	)
	return &harness{proc: proc, issues: issues, rules: rules, webhook: hook}
}

func newEvent(user string) *models.Event {
	return &models.Event{
		APIKey: "key",
		Type:   "uncaughtError",
		User:   user,
		Device: models.Device{Platform: "browser"},
		Detail: models.EventDetail{Message: "TypeError: foo", Filename: "foo.js"},
	}
}

// --- tests ---

func TestIngest_NewIssue(t *testing.T) {
	h := newHarness(t)

	in, err := h.proc.Ingest(context.Background(), newEvent("u1"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), in.ProjectID)
	assert.Equal(t, 1, in.Issue.EventsCount)
	assert.Equal(t, 1, in.Issue.UsersCount)
	assert.Equal(t, models.LevelSerious, in.Event.Severity)
	assert.NotEqual(t, "", in.Event.ID.String())
	assert.False(t, in.Event.ReceivedAt.IsZero())
	assert.Equal(t, in.Event.ReceivedAt, in.Event.Timestamp)
	assert.Equal(t, in.Issue.ID, in.Event.IssueID)
}

func TestIngest_NoUser(t *testing.T) {
	h := newHarness(t)

	in, err := h.proc.Ingest(context.Background(), newEvent(""))
	require.NoError(t, err)
	assert.Equal(t, 0, in.Issue.UsersCount)
	assert.Empty(t, in.Issue.Users)
}

func TestIngest_SameFingerprintAggregates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.proc.Ingest(ctx, newEvent("u1"))
	require.NoError(t, err)

	e := newEvent("u2")
	e.Detail.Message = "TypeError:   FOO"
	second, err := h.proc.Ingest(ctx, e)
	require.NoError(t, err)

	assert.Equal(t, first.Issue.ID, second.Issue.ID)
	assert.Equal(t, 2, second.Issue.EventsCount)
	assert.Equal(t, 2, second.Issue.UsersCount)
}

func TestIngest_SeverityAssignment(t *testing.T) {
	h := newHarness(t)

	e := newEvent("")
	e.Type = "ajaxError"
	in, err := h.proc.Ingest(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, models.LevelWarning, in.Event.Severity)

	e = newEvent("")
	e.Type = "customError"
	in, err = h.proc.Ingest(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, models.LevelDefault, in.Event.Severity)
}

func TestIngest_UnknownProject(t *testing.T) {
	h := newHarness(t)
	e := newEvent("")
	e.APIKey = "nope"

	_, err := h.proc.Ingest(context.Background(), e)
	assert.ErrorIs(t, err, pipeline.ErrUnknownProject)
}

func TestIngest_AggregationError(t *testing.T) {
	h := newHarness(t)
	h.issues.err = errors.New("db down")

	_, err := h.proc.Ingest(context.Background(), newEvent(""))
	var aggErr *issue.AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "key", aggErr.APIKey)
}

func TestValidateEvent(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, pipeline.ValidateEvent(newEvent(""), now))

	err := pipeline.ValidateEvent(&models.Event{Timestamp: now.Add(48 * time.Hour)}, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	fields := []string{}
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"api_key", "type", "timestamp"}, fields)

	assert.ErrorIs(t, pipeline.ValidateEvent(nil, now), validation.ErrInvalid)
}

func TestProcess_SilenceWindowEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, step := range []struct {
		offset time.Duration
		sent   int
	}{
		{0, 1},
		{1800 * time.Second, 1},
		{4000 * time.Second, 2},
	} {
		at := base.Add(step.offset)
		h.proc.SetClock(func() time.Time { return at })

		_, err := h.proc.Process(ctx, newEvent("u1"))
		require.NoError(t, err)
		assert.Equal(t, step.sent, h.webhook.sent(), "after event at +%s", step.offset)
	}
}

func TestNotify_NoRules(t *testing.T) {
	h := newHarness(t)
	h.rules.rules = nil
	ctx := context.Background()

	in, err := h.proc.Ingest(ctx, newEvent(""))
	require.NoError(t, err)
	res, err := h.proc.Notify(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, res.Matched)
	assert.Equal(t, 0, h.webhook.sent())
}

func TestNotify_DispatchFailureKeepsIssue(t *testing.T) {
	h := newHarness(t)
	h.webhook.err = errors.New("status 500")
	ctx := context.Background()

	in, err := h.proc.Process(ctx, newEvent(""))
	require.NoError(t, err)
	assert.Equal(t, 1, in.Issue.EventsCount)
	assert.Equal(t, 1, h.issues.events)
}

func TestNotify_ReportsFailuresAndSkips(t *testing.T) {
	h := newHarness(t)
	h.webhook.err = errors.New("status 500")
	h.rules.rules = append(h.rules.rules, &models.NotificationRule{ID: 2, Level: "urgent", Open: true})
	ctx := context.Background()

	in, err := h.proc.Ingest(ctx, newEvent(""))
	require.NoError(t, err)
	res, err := h.proc.Notify(ctx, in)
	require.NoError(t, err)

	assert.Len(t, res.Matched, 1)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, int64(2), res.Skipped[0].RuleID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, dispatch.ChannelWebhook, res.Failed[0].Channel)
}

func TestNotify_RuleLoadError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in, err := h.proc.Ingest(ctx, newEvent(""))
	require.NoError(t, err)

	h.rules.err = errors.New("db down")
	_, err = h.proc.Notify(ctx, in)
	assert.Error(t, err)
}
