package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/fade/internal/store"
)

const tfidfScrollPage = 500

// TFIDFEmbedder is the offline fallback: a bag-of-words vector over the most
// common terms in the memories stored when it was built.
type TFIDFEmbedder struct {
	index map[string]int
	idf   []float64
	dims  int
}

// NewTFIDFEmbedder builds its vocabulary from the contents already in vs.
func NewTFIDFEmbedder(ctx context.Context, vs store.VectorStore, maxTerms int) (*TFIDFEmbedder, error) {
	if maxTerms <= 0 {
		maxTerms = 512
	}

	var docs []string
	var offset string
	for {
		page, err := vs.Scroll(ctx, store.ScrollRequest{Offset: offset, Limit: tfidfScrollPage})
		if err != nil {
			return nil, fmt.Errorf("scroll contents for tfidf: %w", err)
		}
		for _, p := range page.Points {
			if p.Payload != nil && p.Payload.Content != "" {
				docs = append(docs, p.Payload.Content)
			}
		}
		if page.NextOffset == "" {
			break
		}
		offset = page.NextOffset
	}
	return newTFIDF(docs, maxTerms), nil
}

func newTFIDF(docs []string, maxTerms int) *TFIDFEmbedder {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range tokenize(doc) {
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				df[term]++
			}
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if df[terms[i]] != df[terms[j]] {
			return df[terms[i]] > df[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}

	n := float64(max(len(docs), 1))
	e := &TFIDFEmbedder{
		index: make(map[string]int, len(terms)),
		idf:   make([]float64, len(terms)),
		dims:  max(len(terms), 1),
	}
	for i, term := range terms {
		e.index[term] = i
		e.idf[i] = math.Log(n/float64(df[term])) + 1
	}
	return e
}

func (t *TFIDFEmbedder) Model() string  { return "tfidf" }
func (t *TFIDFEmbedder) Dimensions() int { return t.dims }

// Embed weights each known term by (1 + ln tf) * idf and L2-normalizes.
// Text with no known terms embeds to the zero vector.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	counts := make(map[int]int)
	for _, tok := range tokenize(text) {
		if i, ok := t.index[tok]; ok {
			counts[i]++
		}
	}

	vec := make([]float64, t.dims)
	for i, c := range counts {
		vec[i] = (1 + math.Log(float64(c))) * t.idf[i]
	}
	normalize(vec)
	return vec, nil
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit, hyphen or underscore. Single-rune tokens are dropped.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
