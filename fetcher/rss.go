// Package fetcher は外部のフィードを取り込み、キャラクターの伝承（lore）に変換します。
package fetcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"
)

// DefaultSummaryLength は要約を切り詰める rune 数の既定値です。
const DefaultSummaryLength = 200

// Item は、フィードから取り出した 1 件の記事です。出所（RSS、Atom など）に依存しない形式です。
type Item struct {
	Title     string
	Summary   string
	SourceURL string
}

// Lore は Item を伝承 1 件分の文字列にします。
func (i *Item) Lore() string {
	var sb strings.Builder
	sb.WriteString(i.Title)
	if i.Summary != "" {
		sb.WriteString(": ")
		sb.WriteString(i.Summary)
	}
	if i.SourceURL != "" {
		fmt.Fprintf(&sb, " (%s)", i.SourceURL)
	}
	return strings.TrimSpace(sb.String())
}

// Fetcher は、外部のデータソースから Item を取得します。
type Fetcher interface {
	Fetch(ctx context.Context) ([]*Item, error)
}

// RSSFetcher は Fetcher の RSS/Atom 実装です。
type RSSFetcher struct {
	url   string
	limit int
}

// NewRSSFetcher は新しい RSSFetcher を生成します。
// limit は取得する記事の上限数です。0 以下の場合は無制限。
func NewRSSFetcher(url string, limit int) *RSSFetcher {
	return &RSSFetcher{
		url:   url,
		limit: limit,
	}
}

// Fetch はフィードを取得し、公開日の新しい順に Item を返します。
func (f *RSSFetcher) Fetch(ctx context.Context) ([]*Item, error) {
	fp := gofeed.NewParser()
	feed, err := fp.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed from %s: %w", f.url, err)
	}

	sort.SliceStable(feed.Items, func(i, j int) bool {
		iTime := feed.Items[i].PublishedParsed
		jTime := feed.Items[j].PublishedParsed
		if iTime == nil || jTime == nil {
			return false
		}
		return iTime.After(*jTime)
	})

	var items []*Item
	for i, item := range feed.Items {
		if f.limit > 0 && i >= f.limit {
			break
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		items = append(items, &Item{
			Title:     strings.TrimSpace(item.Title),
			Summary:   truncateString(strings.TrimSpace(stripHTML(summary)), DefaultSummaryLength),
			SourceURL: item.Link,
		})
	}
	return items, nil
}

var htmlRegex = regexp.MustCompile("<[^>]*>")

// stripHTML は文字列からHTMLタグを削除します。
func stripHTML(s string) string {
	return htmlRegex.ReplaceAllString(s, "")
}

// truncateString は文字列をrune単位で指定された長さに切り詰めます。
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}

var _ Fetcher = (*RSSFetcher)(nil)
