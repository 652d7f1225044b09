// Package retrieval はキャラクターのコンテキストを分割・索引化し、質問に関連する断片を取り出します。
package retrieval

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators は分割位置として優先される区切りです。前にあるものほど優先されます。
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter は文章を ChunkSize 文字程度の断片に分割します。
// 区切り文字の位置を優先しますが、収まらない場合はより細かい区切りで再帰的に分割します。
// 隣り合う断片は最大 ChunkOverlap 文字重なります。長さは rune 単位です。
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Separators:   DefaultSeparators,
	}
}

// SplitAll は texts をそれぞれ分割し、順に連結して返します。
func (s *Splitter) SplitAll(texts ...string) []string {
	var out []string
	for _, t := range texts {
		out = append(out, s.Split(t)...)
	}
	return out
}

// Split は text を分割します。空白だけの断片は含まれません。
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) < s.ChunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, separator)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, separator)...)
	}
	return out
}

// merge は小さな断片を ChunkSize を超えない範囲でつなぎ、末尾 ChunkOverlap 文字分を次の断片に持ち越します。
func (s *Splitter) merge(pieces []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	var out, current []string
	total := 0

	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinLen() > s.ChunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				out = append(out, doc)
			}
			for len(current) > 0 && (total > s.ChunkOverlap || total+n+joinLen() > s.ChunkSize) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		out = append(out, doc)
	}
	return out
}
