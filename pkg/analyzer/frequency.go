package analyzer

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
)

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// Frequency is an extractive summarizer. Sentences are ranked by the
// normalized frequency of their non-stopword tokens and kept in source order
// until the word limit is reached.
type Frequency struct {
	stopwords map[string]struct{}
}

var _ analysis.Model = &Frequency{}

// NewFrequency creates a Frequency summarizer with the built-in English
// stopword list
func NewFrequency() *Frequency {
	return &Frequency{stopwords: defaultStopwords()}
}

func (f *Frequency) Name() string { return "frequency" }

func (f *Frequency) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	limit, err := params.Int(model.ParamWordLimit)
	if err != nil {
		return nil, err
	}

	result := model.NewMap()
	result.Set("summary", model.String(f.Summarize(text, limit)))
	result.Set("summary_word_limit", model.Number(float64(limit)))
	result.Set("summarizer", model.String(f.Name()))
	return result, nil
}

// Summarize returns at most limit words of text, chosen sentence by sentence
// in score order
func (f *Frequency) Summarize(text string, limit int) string {
	var sentences []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 || limit <= 0 {
		return ""
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range tokens(sent) {
			if _, ok := f.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}

	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, sent := range sentences {
		toks := tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok]
		}
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = ranked{idx: i, score: score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	budget := limit
	var selected []int
	for _, s := range scores {
		n := len(strings.Fields(sentences[s.idx]))
		if n > budget {
			continue
		}
		selected = append(selected, s.idx)
		budget -= n
		if budget == 0 {
			break
		}
	}

	// every sentence is longer than the limit: cut the best one
	if len(selected) == 0 {
		words := strings.Fields(sentences[scores[0].idx])
		return strings.Join(words[:limit], " ")
	}

	sort.Ints(selected)
	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into",
		"about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own",
		"same", "too", "very", "can", "will", "just", "don", "should", "now", "i", "you", "he", "she", "we",
		"they", "me", "him", "her", "us", "them", "my", "your", "his", "our", "their", "not", "no", "do",
		"does", "did", "have", "has", "had",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
