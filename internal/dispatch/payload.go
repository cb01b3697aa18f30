package dispatch

import (
	"encoding/json"

	"github.com/kiranshivaraju/bugnest/internal/notice"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// WebhookPayload builds the request body for a webhook of the given type.
// Chat platforms get their native message shape; "others" gets the full
// notice as JSON.
func WebhookPayload(webhookType string, n models.DispatchNotice, c notice.Content) ([]byte, error) {
	var body any
	switch webhookType {
	case "dingtalk":
		body = map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": c.Title, "text": c.Markdown},
		}
	case "wechat_work":
		body = map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": c.Markdown},
		}
	case "feishu":
		body = map[string]any{
			"msg_type": "text",
			"content":  map[string]string{"text": c.Text},
		}
	case "slack":
		body = map[string]string{"text": "*" + c.Title + "*\n" + c.Lite + "\n<" + c.Link + "|View details>"}
	default:
		body = genericPayload{
			Content: c,
			Rule:    ruleSummary{ID: n.Rule.ID, Name: n.Rule.Name, Level: n.Rule.Level},
			Issue:   n.Issue,
			Event:   n.Event,
		}
	}
	return json.Marshal(body)
}

type ruleSummary struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Level models.Level `json:"level"`
}

type genericPayload struct {
	notice.Content
	Rule  ruleSummary  `json:"rule"`
	Issue models.Issue `json:"issue"`
	Event models.Event `json:"event"`
}
