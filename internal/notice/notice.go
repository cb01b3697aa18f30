// Package notice renders a matched notification into the formats the
// dispatch channels consume.
package notice

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/bugnest/pkg/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// TimeLayout formats the issue's last-seen time.
const TimeLayout = "2006-01-02 15:04:05"

// placeholder is what some clients send for a field they could not read.
const placeholder = "undefined"

// Content is one notice in every format a channel may need.
type Content struct {
	Title    string `json:"title"`
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Lite     string `json:"lite"`
	Link     string `json:"link"`
}

// Renderer turns a DispatchNotice into Content. It holds no per-call state
// and is safe for concurrent use.
type Renderer struct {
	host string
	md   goldmark.Markdown
}

// NewRenderer builds a Renderer linking to issues under host, the public
// base URL of the dashboard.
func NewRenderer(host string) *Renderer {
	return &Renderer{
		host: strings.TrimRight(host, "/"),
		md:   goldmark.New(goldmark.WithExtensions(extension.Linkify)),
	}
}

// LevelLabel maps a rule level to its display text. Unknown levels render
// as an empty label.
func LevelLabel(l models.Level) string {
	switch l {
	case models.LevelSerious:
		return "Serious"
	case models.LevelWarning:
		return "Warning"
	case models.LevelDefault:
		return "Default"
	}
	return ""
}

// Link returns the deep link to the latest event of an issue.
func (r *Renderer) Link(issueID int64) string {
	return r.host + "/issue/" + strconv.FormatInt(issueID, 10) + "/event/latest"
}

type section struct {
	heading string
	body    string
}

// Render formats n. Missing fields become empty segments; Render never fails.
func (r *Renderer) Render(n models.DispatchNotice) Content {
	issue, event := n.Issue, n.Event
	title := fmt.Sprintf("[bugnest] [Issue] [%s] %s", LevelLabel(n.Rule.Level), issue.Type)
	link := r.Link(issue.ID)

	updated := ""
	if !issue.UpdatedAt.IsZero() {
		updated = issue.UpdatedAt.UTC().Format(TimeLayout)
	}
	stats := []string{
		"Events: " + strconv.Itoa(issue.EventsCount),
		"Users: " + strconv.Itoa(issue.UsersCount),
		"Time: " + updated,
		"Platform: " + event.Device.Platform,
	}

	var optional []section
	if present(event.Device.URL) {
		optional = append(optional, section{"Url", event.Device.URL})
	}
	if present(issue.Metadata.Filename) {
		optional = append(optional, section{"File", issue.Metadata.Filename})
	}
	if present(issue.Metadata.Others) {
		optional = append(optional, section{"Others", issue.Metadata.Others})
	}

	c := Content{
		Title: title,
		Link:  link,
		Lite:  strings.Join(stats[:3], " "),
	}
	c.Text = renderText(title, issue.Metadata.Message, stats, optional, link)
	c.Markdown = renderMarkdown(title, issue.Metadata.Message, stats, optional, link)
	c.HTML = r.toHTML(c.Markdown)
	return c
}

func present(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != placeholder
}

func renderText(title, message string, stats []string, optional []section, link string) string {
	var b strings.Builder
	b.WriteString(title + "\n\n")
	b.WriteString("Message\n" + message + "\n\n")
	b.WriteString("Statistics\n" + strings.Join(stats, "\n") + "\n\n")
	for _, s := range optional {
		b.WriteString(s.heading + "\n" + s.body + "\n\n")
	}
	b.WriteString("Details\n" + link + "\n")
	return b.String()
}

func renderMarkdown(title, message string, stats []string, optional []section, link string) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	b.WriteString("## Message\n\n- " + message + "\n\n")
	b.WriteString("## Statistics\n\n")
	for _, s := range stats {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\n")
	for _, s := range optional {
		b.WriteString("## " + s.heading + "\n\n" + fence(s.body) + "\n\n")
	}
	b.WriteString("[View details](" + link + ")\n")
	return b.String()
}

// fence wraps free text in a code block so stack traces and markup in
// client-supplied fields render literally.
func fence(s string) string {
	ticks := "```"
	for strings.Contains(s, ticks) {
		ticks += "`"
	}
	return ticks + "\n" + s + "\n" + ticks
}

func (r *Renderer) toHTML(markdown string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return buf.String()
}
