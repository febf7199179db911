// Package builtin provides small text tools that need no external service.
// They exercise the tool registry end to end; production NLP tools register
// the same way.
package builtin

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

// All returns every builtin tool.
func All() []tool.Tool {
	return []tool.Tool{WordCount(), TermFrequency(), SentenceSplit()}
}

// WordCount counts whitespace-separated words.
func WordCount() tool.Tool {
	return tool.Func{
		Cap: tool.Capability{
			ID:          "word_count",
			Description: "Counts words and characters in the document text.",
			IOTypes:     []string{"text", "statistics"},
		},
		Fn: func(ctx context.Context, doc run.DocumentRef, _ map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return map[string]int{
				"words":      len(strings.Fields(doc.Content)),
				"characters": len([]rune(doc.Content)),
			}, nil
		},
	}
}

// TermCount is one entry in a term frequency result.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// TermFrequency returns the most frequent lowercase terms. The "top" param
// limits the list (default 10); "min_length" drops short tokens (default 3).
func TermFrequency() tool.Tool {
	return tool.Func{
		Cap: tool.Capability{
			ID:          "term_frequency",
			Description: "Ranks the most frequent terms in the document.",
			IOTypes:     []string{"text", "term_list"},
		},
		Fn: func(ctx context.Context, doc run.DocumentRef, params map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			top := intParam(params, "top", 10)
			minLen := intParam(params, "min_length", 3)

			counts := make(map[string]int)
			for _, tok := range tokenize(doc.Content) {
				if len([]rune(tok)) >= minLen {
					counts[tok]++
				}
			}

			terms := make([]TermCount, 0, len(counts))
			for _, term := range slices.Sorted(maps.Keys(counts)) {
				terms = append(terms, TermCount{Term: term, Count: counts[term]})
			}
			slices.SortStableFunc(terms, func(a, b TermCount) int {
				return cmp.Compare(b.Count, a.Count)
			})
			if len(terms) > top {
				terms = terms[:top]
			}
			return terms, nil
		},
	}
}

// SentenceSplit splits the document into sentences on terminal punctuation.
func SentenceSplit() tool.Tool {
	return tool.Func{
		Cap: tool.Capability{
			ID:          "sentence_split",
			Description: "Splits the document text into sentences.",
			IOTypes:     []string{"text", "sentence_list"},
		},
		Fn: func(ctx context.Context, doc run.DocumentRef, _ map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var sentences []string
			var b strings.Builder
			for _, r := range doc.Content {
				b.WriteRune(r)
				if r == '.' || r == '!' || r == '?' {
					if s := strings.TrimSpace(b.String()); s != "" {
						sentences = append(sentences, s)
					}
					b.Reset()
				}
			}
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			return sentences, nil
		},
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
