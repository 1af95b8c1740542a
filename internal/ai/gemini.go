package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"google.golang.org/genai"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

// generateFunc sends a prompt and returns the raw model text.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Gemini categorizes transactions with a Gemini model.
type Gemini struct {
	generate generateFunc
}

// NewGemini creates a Gemini categorizer. An empty apiKey lets the client
// pick up credentials from the environment.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultModelName
	}

	cfg := &genai.ClientConfig{APIKey: apiKey}
	if apiKey != "" {
		cfg.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	return &Gemini{
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
			if err != nil {
				return "", fmt.Errorf("generate content: %w", err)
			}
			return resp.Text(), nil
		},
	}, nil
}

type modelAnswer struct {
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
}

// Suggest asks the model to pick one of req.Categories by name.
func (g *Gemini) Suggest(ctx context.Context, req Request) (Suggestion, bool, error) {
	if strings.TrimSpace(req.Description) == "" || len(req.Categories) == 0 {
		return Suggestion{}, false, nil
	}

	raw, err := g.generate(ctx, buildPrompt(req))
	if err != nil {
		return Suggestion{}, false, fmt.Errorf("Suggest: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return Suggestion{}, false, fmt.Errorf("Suggest: empty response from model")
	}

	var answer modelAnswer
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &answer); err != nil {
		return Suggestion{}, false, fmt.Errorf("Suggest: unmarshal JSON: %w (raw response: %s)", err, raw)
	}
	if answer.Category == nil || strings.TrimSpace(*answer.Category) == "" {
		return Suggestion{}, false, nil
	}

	c, ok := resolveCategory(*answer.Category, candidates(req))
	if !ok {
		return Suggestion{}, false, nil
	}

	confidence := 0.5
	if answer.Confidence != nil {
		confidence = clamp(*answer.Confidence)
	}
	return Suggestion{CategoryID: c.ID, Confidence: confidence}, true, nil
}

// candidates narrows categories to the types that fit the direction.
func candidates(req Request) []domain.Category {
	var out []domain.Category
	for _, c := range req.Categories {
		if !c.VisibleTo(req.OwnerID) {
			continue
		}
		switch {
		case req.Direction == domain.DirectionCredit && c.Type == domain.CategoryExpense:
			continue
		case req.Direction == domain.DirectionDebit && c.Type == domain.CategoryIncome:
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You categorize personal bank transactions.\n")
	b.WriteString("Use ONLY the following category names:\n\n")
	for _, c := range candidates(req) {
		b.WriteString("- " + c.Name + " (" + string(c.Type) + ")\n")
	}
	b.WriteString("\nTransaction: " + describe(req) + "\n\n")
	b.WriteString("Reply with a JSON object: {\"category\": <name or null>, \"confidence\": <0..1>}.\n")
	b.WriteString("Use null when no category clearly fits.\n")
	b.WriteString("Return ONLY raw JSON, no code fences.\n")
	return b.String()
}

// resolveCategory maps a model-written name onto a known category: exact
// (case-insensitive) first, then the closest name within a small edit distance.
func resolveCategory(name string, cats []domain.Category) (domain.Category, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, c := range cats {
		if strings.ToLower(c.Name) == want {
			return c, true
		}
	}

	best, bestDist := domain.Category{}, -1
	for _, c := range cats {
		d := levenshtein.ComputeDistance(want, strings.ToLower(c.Name))
		if bestDist == -1 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > maxDistance(want) {
		return domain.Category{}, false
	}
	return best, true
}

func maxDistance(s string) int {
	n := len([]rune(s)) / 5
	if n < 1 {
		return 1
	}
	if n > 3 {
		return 3
	}
	return n
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cleanModelJSON strips Markdown fences and surrounding text from a JSON object reply.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
