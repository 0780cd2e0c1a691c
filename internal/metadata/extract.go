package metadata

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	wordsPerMinute    = 200
	maxKeywords       = 10
	minKeywordLength  = 4
	maxPreviewLength  = 200
	maxDescriptionLen = 500
)

// stopWords are skipped during keyword extraction.
var stopWords = map[string]struct{}{
	"that": {}, "this": {}, "with": {}, "from": {}, "have": {}, "been": {},
	"were": {}, "they": {}, "their": {}, "there": {}, "which": {}, "would": {},
	"could": {}, "should": {}, "about": {}, "after": {}, "before": {},
	"other": {}, "these": {}, "those": {}, "than": {}, "then": {}, "them": {},
	"when": {}, "where": {}, "what": {}, "will": {}, "your": {}, "more": {},
	"some": {}, "such": {}, "only": {}, "over": {}, "into": {}, "also": {},
	"just": {}, "like": {}, "very": {}, "most": {}, "each": {}, "while": {},
	"because": {}, "between": {}, "through": {}, "during": {}, "does": {},
	"being": {}, "under": {}, "here": {},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// extractDocument pulls metadata fields out of a parsed HTML page.
func extractDocument(body []byte) (Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Metadata{}, err
	}

	var md Metadata
	md.Title = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	md.Description = truncate(firstNonEmpty(
		metaContent(doc, `meta[name="description"]`),
		metaContent(doc, `meta[property="og:description"]`),
	), maxDescriptionLen)
	md.Author = firstNonEmpty(
		metaContent(doc, `meta[name="author"]`),
		metaContent(doc, `meta[property="article:author"]`),
	)
	md.Image = metaContent(doc, `meta[property="og:image"]`)
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		md.Language = strings.TrimSpace(lang)
	}
	if published := firstNonEmpty(
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="date"]`),
	); published != "" {
		if ts, err := parsePublishDate(published); err == nil {
			md.PublishDate = &ts
		}
	}

	// Keywords and reading time come from the description, not the body.
	// Body text drags in navigation labels and boilerplate that swamp the
	// actual subject words.
	descWords := wordPattern.FindAllString(md.Description, -1)
	md.ReadingTimeMinutes = readingTime(len(descWords))
	md.Keywords = topKeywords(descWords, maxKeywords)
	md.ContentPreview = preview(pageText(doc), maxPreviewLength)
	return md, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// pageText returns body text with scripts, styles and navigation chrome
// removed.
func pageText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, nav, header, footer, noscript").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func parsePublishDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// readingTime estimates minutes at a fixed reading pace, never below one
// minute.
func readingTime(wordCount int) int {
	if wordCount <= 0 {
		return 1
	}
	return int(math.Max(1, math.Ceil(float64(wordCount)/wordsPerMinute)))
}

// topKeywords ranks words by frequency, ignoring short words and stop
// words. Ties break alphabetically so the result is stable.
func topKeywords(words []string, limit int) []string {
	counts := make(map[string]int)
	for _, w := range words {
		w = strings.ToLower(w)
		if len(w) < minKeywordLength {
			continue
		}
		if _, skip := stopWords[w]; skip {
			continue
		}
		counts[w]++
	}
	if len(counts) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(counts))
	for w := range counts {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func preview(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// TitleFromURL derives a readable title from the last path segment,
// falling back to the hostname when the path carries no words.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	segment := ""
	for _, part := range strings.Split(u.Path, "/") {
		if strings.TrimSpace(part) != "" {
			segment = part
		}
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return u.Hostname()
	}

	words := strings.Fields(segment)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// FaviconURL points at the conventional favicon location for a page.
func FaviconURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/favicon.ico"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
