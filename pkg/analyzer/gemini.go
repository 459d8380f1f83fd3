package analyzer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

//go:embed prompt/summarize.md
var summarizePromptRaw string

//go:embed prompt/classify.md
var classifyPromptRaw string

var (
	summarizePromptTmpl = template.Must(template.New("summarize").Parse(summarizePromptRaw))
	classifyPromptTmpl  = template.Must(template.New("classify").Parse(classifyPromptRaw))
)

type summaryResponse struct {
	Summary string `json:"summary" jsonschema:"summary of the text"`
}

type classifyResponse struct {
	Label       string  `json:"label" jsonschema:"predicted label, 1 for positive and 0 for negative"`
	Probability float64 `json:"probability" jsonschema:"confidence of the predicted label between 0 and 1"`
}

// GeminiSummarizer asks Gemini for an abstractive summary
type GeminiSummarizer struct {
	gemini adapter.Gemini
	name   string
	schema *genai.Schema
}

var _ analysis.Model = &GeminiSummarizer{}

func NewGeminiSummarizer(gemini adapter.Gemini, name string) (*GeminiSummarizer, error) {
	schema, err := responseSchema[summaryResponse]()
	if err != nil {
		return nil, err
	}
	return &GeminiSummarizer{gemini: gemini, name: modelName("gemini", name), schema: schema}, nil
}

func (g *GeminiSummarizer) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	limit, err := params.Int(model.ParamWordLimit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := summarizePromptTmpl.Execute(&buf, map[string]any{
		"WordLimit": limit,
		"Text":      text,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute summarize prompt template")
	}

	var resp summaryResponse
	if err := generateJSON(ctx, g.gemini, buf.String(), g.schema, &resp); err != nil {
		return nil, err
	}

	// the model does not always respect the limit
	words := strings.Fields(resp.Summary)
	if len(words) > limit {
		logging.From(ctx).Debug("trimming summary", "id", id.String(), "words", len(words), "limit", limit)
		resp.Summary = strings.Join(words[:limit], " ")
	}

	result := model.NewMap()
	result.Set("summary", model.String(resp.Summary))
	result.Set("summary_word_limit", model.Number(float64(limit)))
	result.Set("summarizer", model.String(g.name))
	return result, nil
}

// GeminiClassifier asks Gemini for a binary sentiment label
type GeminiClassifier struct {
	gemini adapter.Gemini
	name   string
	schema *genai.Schema
}

var _ analysis.Model = &GeminiClassifier{}

func NewGeminiClassifier(gemini adapter.Gemini, name string) (*GeminiClassifier, error) {
	schema, err := responseSchema[classifyResponse]()
	if err != nil {
		return nil, err
	}
	schema.Properties["label"].Enum = []string{"0", "1"}
	return &GeminiClassifier{gemini: gemini, name: modelName("gemini", name), schema: schema}, nil
}

func (g *GeminiClassifier) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	var buf bytes.Buffer
	if err := classifyPromptTmpl.Execute(&buf, map[string]any{"Text": text}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute classify prompt template")
	}

	var resp classifyResponse
	if err := generateJSON(ctx, g.gemini, buf.String(), g.schema, &resp); err != nil {
		return nil, err
	}
	if _, err := strconv.Atoi(resp.Label); err != nil {
		return nil, goerr.Wrap(model.ErrUpstreamModel, "unexpected label from gemini", goerr.V("label", resp.Label))
	}

	return classification(resp.Label, resp.Probability, g.name), nil
}

func generateJSON(ctx context.Context, gemini adapter.Gemini, prompt string, schema *genai.Schema, out any) error {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return goerr.Wrap(model.ErrUpstreamModel, "failed to generate content", goerr.V("error", err.Error()))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return goerr.Wrap(model.ErrUpstreamModel, "invalid response structure from gemini")
	}

	rawJSON := resp.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(rawJSON), out); err != nil {
		return goerr.Wrap(model.ErrUpstreamModel, "failed to unmarshal gemini response",
			goerr.V("json", rawJSON), goerr.V("error", err.Error()))
	}
	return nil
}

// classification builds the result shared by every classifier
func classification(label string, proba float64, name string) *model.Map {
	result := model.NewMap()
	result.Set("y_pred", model.String(label))
	result.Set("y_proba", model.Number(proba))
	result.Set("classifier", model.String(name))
	return result
}

func modelName(kind, detail string) string {
	if detail == "" {
		return kind
	}
	return kind + ":" + detail
}
