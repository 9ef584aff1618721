package email

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockSelectors は改行で区切るブロック要素。
const blockSelectors = "p, div, h1, h2, h3, h4, li, tr, table"

// PlainText はHTMLメール本文からテキスト版を生成する。
// リンクは "テキスト (URL)" の形に展開する。
func PlainText(htmlBody string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("head, style, script").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		switch {
		case text == "" || text == href:
			a.SetText(href)
		default:
			a.SetText(fmt.Sprintf("%s (%s)", text, href))
		}
	})
	doc.Find("li").PrependHtml("- ")
	doc.Find(blockSelectors).AppendHtml("\n")

	var lines []string
	blank := false
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		lines = append(lines, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
