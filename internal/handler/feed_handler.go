package handler

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/strmonitor/internal/model"
	"github.com/hitoshi/strmonitor/internal/security"
)

// feedEntryLimit はAtomフィードに含める変更の件数。
const feedEntryLimit = 50

const atomNamespace = "http://www.w3.org/2005/Atom"

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Xmlns   string      `xml:"xmlns,attr"`
	ID      string      `xml:"id"`
	Title   string      `xml:"title"`
	Updated string      `xml:"updated"`
	Links   []atomLink  `xml:"link"`
	Author  atomAuthor  `xml:"author"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
	Type string `xml:"type,attr,omitempty"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term  string `xml:"term,attr"`
	Label string `xml:"label,attr,omitempty"`
}

type atomText struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Updated    string         `xml:"updated"`
	Published  string         `xml:"published"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
	Summary    atomText       `xml:"summary"`
}

// FeedHandler は公開済み変更のAtomフィードを提供する。
type FeedHandler struct {
	reader    ChangeReader
	sanitizer security.SummarySanitizer
	baseURL   string
}

// NewFeedHandler はFeedHandlerを生成する。baseURLは末尾スラッシュなし。
func NewFeedHandler(reader ChangeReader, sanitizer security.SummarySanitizer, baseURL string) *FeedHandler {
	return &FeedHandler{
		reader:    reader,
		sanitizer: sanitizer,
		baseURL:   baseURL,
	}
}

// Atom は公開済み変更をAtom 1.0形式で返す。
// GET /changes.atom
func (h *FeedHandler) Atom(w http.ResponseWriter, r *http.Request) {
	changes, err := h.reader.ListPublished(r.Context(), feedEntryLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	feed := h.buildFeed(changes)

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(feed)
}

func (h *FeedHandler) buildFeed(changes []model.ChangeWithSource) atomFeed {
	selfURL := h.baseURL + "/changes.atom"
	feed := atomFeed{
		Xmlns: atomNamespace,
		ID:    selfURL,
		Title: "STR Regulation Changes",
		Links: []atomLink{
			{Href: selfURL, Rel: "self", Type: "application/atom+xml"},
			{Href: h.baseURL + "/changes", Rel: "alternate", Type: "text/html"},
		},
		Author:  atomAuthor{Name: "STR Monitor"},
		Entries: make([]atomEntry, 0, len(changes)),
	}

	var latest time.Time
	for i := range changes {
		c := &changes[i]
		published := c.DetectedAt
		if c.PublishedAt != nil {
			published = *c.PublishedAt
		}
		if published.After(latest) {
			latest = published
		}

		link := h.baseURL + "/changes/" + url.PathEscape(c.ID)
		feed.Entries = append(feed.Entries, atomEntry{
			ID:        link,
			Title:     "[" + c.Severity.Label() + "] " + c.SourceName,
			Updated:   published.UTC().Format(time.RFC3339),
			Published: published.UTC().Format(time.RFC3339),
			Links:     []atomLink{{Href: link, Rel: "alternate", Type: "text/html"}},
			Categories: []atomCategory{
				{Term: string(c.SourceJurisdiction), Label: c.SourceJurisdiction.DisplayName()},
				{Term: string(c.Severity)},
			},
			Summary: atomText{
				Type: "html",
				Body: h.sanitizer.Sanitize(c.SummaryOr("A change was detected.")),
			},
		})
	}

	if latest.IsZero() {
		latest = time.Now()
	}
	feed.Updated = latest.UTC().Format(time.RFC3339)
	return feed
}
