package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
)

func fakeGemini(reply string, err error) (*Gemini, *string) {
	var prompt string
	return &Gemini{generate: func(ctx context.Context, p string) (string, error) {
		prompt = p
		return reply, err
	}}, &prompt
}

func TestGemini_Suggest(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantOK   bool
		wantID   string
		wantConf float64
	}{
		{"exact name", `{"category": "Food & Dining", "confidence": 0.92}`, true, "sys_food_dining", 0.92},
		{"case and fences", "```json\n{\"category\": \"food & dining\", \"confidence\": 0.8}\n```", true, "sys_food_dining", 0.8},
		{"spelled out ampersand", `{"category": "Food and Dining", "confidence": 0.7}`, true, "sys_food_dining", 0.7},
		{"typo within distance", `{"category": "Food & Dinning", "confidence": 0.7}`, true, "sys_food_dining", 0.7},
		{"null category", `{"category": null}`, false, "", 0},
		{"unknown name", `{"category": "Spaceships", "confidence": 0.99}`, false, "", 0},
		{"missing confidence", `{"category": "Food & Dining"}`, true, "sys_food_dining", 0.5},
		{"confidence clamped", `{"category": "Food & Dining", "confidence": 7}`, true, "sys_food_dining", 1},
		{"income category not offered for debit", `{"category": "Salary", "confidence": 0.9}`, false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := fakeGemini(tt.reply, nil)
			s, ok, err := g.Suggest(context.Background(), testRequest())
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.wantID, s.CategoryID)
			if ok {
				require.InDelta(t, tt.wantConf, s.Confidence, 1e-9)
			}
		})
	}
}

func TestGemini_SuggestErrors(t *testing.T) {
	g, _ := fakeGemini("", errors.New("quota exceeded"))
	_, _, err := g.Suggest(context.Background(), testRequest())
	require.ErrorContains(t, err, "quota exceeded")

	g, _ = fakeGemini("   ", nil)
	_, _, err = g.Suggest(context.Background(), testRequest())
	require.Error(t, err)

	g, _ = fakeGemini("I think it's food", nil)
	_, _, err = g.Suggest(context.Background(), testRequest())
	require.Error(t, err)
}

func TestGemini_PromptListsOnlyOwnerCategories(t *testing.T) {
	g, prompt := fakeGemini(`{"category": null}`, nil)
	_, _, err := g.Suggest(context.Background(), testRequest())
	require.NoError(t, err)

	require.Contains(t, *prompt, "- Food & Dining (EXPENSE)")
	require.Contains(t, *prompt, "DEBIT 250.00 POS ZOMATO BANGALORE")
	require.NotContains(t, *prompt, "Bob's")
	require.NotContains(t, *prompt, "Salary")
}

func TestGemini_EmptyInputSkipsModel(t *testing.T) {
	called := false
	g := &Gemini{generate: func(ctx context.Context, p string) (string, error) {
		called = true
		return "", nil
	}}

	req := testRequest()
	req.Description = "  "
	_, ok, err := g.Suggest(context.Background(), req)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, called)
}

func TestResolveCategory(t *testing.T) {
	cats := []domain.Category{
		{ID: "a", Name: "Rent"},
		{ID: "b", Name: "Travel"},
	}

	c, ok := resolveCategory("rent", cats)
	require.True(t, ok)
	require.Equal(t, "a", c.ID)

	c, ok = resolveCategory("Travl", cats)
	require.True(t, ok)
	require.Equal(t, "b", c.ID)

	_, ok = resolveCategory("Groceries", cats)
	require.False(t, ok)
}
