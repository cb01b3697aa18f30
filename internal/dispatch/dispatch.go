// Package dispatch delivers rendered notices to the channels enabled in a
// project's notification setting.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/internal/notice"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Channel names, also used as metric labels.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
	ChannelBrowser = "browser"
)

const maxParallelSends = 8

// SendEmail is one rendered email to one recipient.
type SendEmail struct {
	Email string
	Title string
	Text  string
	HTML  string
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg SendEmail) error
}

type WebhookSender interface {
	SendWebhook(ctx context.Context, url string, payload []byte) error
}

type BrowserPusher interface {
	SendBrowserPush(ctx context.Context, projectID int64, payload []byte) error
}

// DispatchError is the failure of one delivery. Other deliveries of the same
// notice are unaffected.
type DispatchError struct {
	Channel string
	Target  string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.Channel, e.Target, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher renders a notice once and fans it out to every enabled channel.
// A nil sender disables its channel.
type Dispatcher struct {
	renderer *notice.Renderer
	email    EmailSender
	webhook  WebhookSender
	browser  BrowserPusher
}

func NewDispatcher(renderer *notice.Renderer, email EmailSender, webhook WebhookSender, browser BrowserPusher) *Dispatcher {
	return &Dispatcher{renderer: renderer, email: email, webhook: webhook, browser: browser}
}

type delivery struct {
	channel string
	target  string
	send    func(ctx context.Context) error
}

// Dispatch delivers n to every open target of n.Setting. Deliveries run
// concurrently and independently; the failures are returned, never the
// first one alone.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.DispatchNotice) []*DispatchError {
	content := d.renderer.Render(n)
	deliveries := d.plan(n, content)
	if len(deliveries) == 0 {
		slog.Debug("no enabled notification channel", "project_id", n.Setting.ProjectID, "rule_id", n.Rule.ID)
		return nil
	}

	var (
		mu     sync.Mutex
		failed []*DispatchError
		g      errgroup.Group
	)
	g.SetLimit(maxParallelSends)
	for _, dl := range deliveries {
		g.Go(func() error {
			start := time.Now()
			err := dl.send(ctx)
			metrics.RecordDispatch(dl.channel, err, time.Since(start))
			if err != nil {
				slog.Error("notification delivery failed",
					"channel", dl.channel, "target", dl.target,
					"rule_id", n.Rule.ID, "issue_id", n.Issue.ID, "error", err)
				mu.Lock()
				failed = append(failed, &DispatchError{Channel: dl.channel, Target: dl.target, Err: err})
				mu.Unlock()
				return nil
			}
			slog.Info("notification delivered",
				"channel", dl.channel, "target", dl.target, "rule_id", n.Rule.ID, "issue_id", n.Issue.ID)
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (d *Dispatcher) plan(n models.DispatchNotice, c notice.Content) []delivery {
	var out []delivery

	for _, e := range n.Setting.Emails {
		if !e.Open {
			continue
		}
		if d.email == nil {
			slog.Debug("email channel disabled, skipping recipient", "email", e.Email)
			continue
		}
		msg := SendEmail{Email: e.Email, Title: c.Title, Text: c.Text, HTML: c.HTML}
		out = append(out, delivery{ChannelEmail, e.Email, func(ctx context.Context) error {
			return d.email.SendEmail(ctx, msg)
		}})
	}

	if n.Setting.Browser.Open && d.browser != nil {
		projectID := n.Setting.ProjectID
		out = append(out, delivery{ChannelBrowser, fmt.Sprintf("project:%d", projectID), func(ctx context.Context) error {
			payload, err := json.Marshal(browserPayload{
				Title:   c.Title,
				Body:    c.Lite,
				Link:    c.Link,
				IssueID: n.Issue.ID,
				Level:   n.Rule.Level,
			})
			if err != nil {
				return err
			}
			return d.browser.SendBrowserPush(ctx, projectID, payload)
		}})
	}

	for _, w := range n.Setting.Webhooks {
		if !w.Open || d.webhook == nil {
			continue
		}
		out = append(out, delivery{ChannelWebhook, w.URL, func(ctx context.Context) error {
			payload, err := WebhookPayload(w.Type, n, c)
			if err != nil {
				return err
			}
			return d.webhook.SendWebhook(ctx, w.URL, payload)
		}})
	}
	return out
}

type browserPayload struct {
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	Link    string       `json:"link"`
	IssueID int64        `json:"issue_id"`
	Level   models.Level `json:"level"`
}
