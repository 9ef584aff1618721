package alert

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/hitoshi/strmonitor/internal/email"
	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/security"
)

//go:embed templates/alert.html
var templatesFS embed.FS

// defaultSummary は要約が空の場合に本文へ入れる文言。
const defaultSummary = "A change was detected."

// Notification は1購読者向けに組み立てたアラート。
type Notification struct {
	Subject string
	HTML    string
	Text    string
}

// RenderInput はアラート本文の組み立てに必要な値。
type RenderInput struct {
	ChangeID       string
	SubscriberName string
	SourceName     string
	Jurisdiction   model.Jurisdiction
	Summary        string
	Severity       model.Severity
}

// templateData はテンプレートに渡す値。Summaryはサニタイズ済みHTML。
type templateData struct {
	Subject        string
	Color          string
	Jurisdiction   string
	SourceName     string
	SubscriberName string
	Summary        template.HTML
	ChangeURL      string
}

// Renderer はアラートメールの件名と本文を組み立てる。
type Renderer struct {
	baseURL   string
	sanitizer security.SummarySanitizer
	tmpl      *template.Template
}

// NewRenderer はRendererを生成する。baseURLは変更詳細ページへのリンクの起点。
func NewRenderer(baseURL string, sanitizer security.SummarySanitizer) (*Renderer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	tmpl, err := template.ParseFS(templatesFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	return &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sanitizer: sanitizer,
		tmpl:      tmpl,
	}, nil
}

// Subject は件名 "[<ラベル>] STR Rule Change: <ページ名>" を返す。
func Subject(severity model.Severity, sourceName string) string {
	return fmt.Sprintf("[%s] STR Rule Change: %s", severity.Label(), sourceName)
}

// ChangeURL は変更詳細ページのURLを返す。
func (r *Renderer) ChangeURL(changeID string) string {
	return r.baseURL + "/changes/" + url.PathEscape(changeID)
}

// Render は1購読者向けのアラートを組み立てる。
func (r *Renderer) Render(in RenderInput) (*Notification, error) {
	summary := r.sanitizer.Sanitize(in.Summary)
	if strings.TrimSpace(summary) == "" {
		summary = defaultSummary
	}
	name := strings.TrimSpace(in.SubscriberName)
	if name == "" {
		name = "there"
	}

	data := templateData{
		Subject:        Subject(in.Severity, in.SourceName),
		Color:          in.Severity.Color(),
		Jurisdiction:   in.Jurisdiction.DisplayName(),
		SourceName:     in.SourceName,
		SubscriberName: name,
		Summary:        template.HTML(summary),
		ChangeURL:      r.ChangeURL(in.ChangeID),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render alert for change %s: %w", in.ChangeID, err)
	}

	text, err := email.PlainText(buf.String())
	if err != nil {
		return nil, fmt.Errorf("derive plain text for change %s: %w", in.ChangeID, err)
	}

	return &Notification{
		Subject: data.Subject,
		HTML:    buf.String(),
		Text:    text,
	}, nil
}
