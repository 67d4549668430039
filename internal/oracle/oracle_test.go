package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nutriflow/internal/llm"
	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTextGenerator struct {
	response   string
	err        error
	delay      time.Duration
	lastPrompt string
}

func (m *mockTextGenerator) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	m.lastPrompt = prompt
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return llm.ContentResponse{}, ctx.Err()
		}
	}
	if m.err != nil {
		return llm.ContentResponse{}, m.err
	}
	return llm.ContentResponse{
		Content: m.response,
		Usage:   shared.TokenUsage{PromptTokens: 100, CompletionTokens: 50, Model: "mock"},
	}, nil
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		gen := &mockTextGenerator{response: `{"title":"Lentil Bowl","calories":"640","ingredients":[{"ingredient":"lentils","quantity":120,"unit":"g"}]}`}
		budget := 12.5
		svc := NewService(gen, time.Second, zap.NewNop())

		res, err := svc.Generate(ctx, Constraints{
			MealType:       "LUNCH",
			TargetCalories: 700,
			Avoid:          []string{"peanut", " "},
			Dislikes:       []string{"olives"},
			Budget:         &budget,
			CookingSkill:   string(profile.SkillBeginner),
			Pantry:         []profile.PantryItem{{Name: "rice", Quantity: 2, Unit: "kg"}, {Name: "eggs", Quantity: 6}},
		})
		require.NoError(t, err)

		assert.Equal(t, "Lentil Bowl", res.Recipe.Title)
		assert.Equal(t, recipe.SourceOracle, res.Recipe.Source)
		require.NotNil(t, res.Recipe.Calories)
		assert.Equal(t, 640.0, *res.Recipe.Calories)
		assert.Equal(t, "RecipeOracle", res.Meta.AgentName)
		assert.Equal(t, 100, res.Meta.Usage.PromptTokens)

		p := gen.lastPrompt
		assert.Contains(t, p, "lunch recipe")
		assert.Contains(t, p, "about 700 kcal")
		assert.Contains(t, p, "in any form: peanut\n")
		assert.Contains(t, p, "$12.50")
		assert.Contains(t, p, "beginner")
		assert.Contains(t, p, "rice (2 kg), eggs (6)")
	})

	t.Run("AvoidedTermsBecomeAllergenTags", func(t *testing.T) {
		gen := &mockTextGenerator{response: `{"title":"x"}`}
		_, err := NewService(gen, 0, zap.NewNop()).Generate(ctx, Constraints{Avoid: []string{"Lactose", "PEANUT", ""}})
		require.NoError(t, err)

		assert.Contains(t, gen.lastPrompt, "shellfish, sesame, lactose.")
		assert.Equal(t, 1, strings.Count(gen.lastPrompt, "peanut,"))
	})

	t.Run("DefaultsInPrompt", func(t *testing.T) {
		gen := &mockTextGenerator{response: `{"title":"x"}`}
		_, err := NewService(gen, 0, zap.NewNop()).ForIngredient(ctx, "kale")
		require.NoError(t, err)

		assert.Contains(t, gen.lastPrompt, "Try to feature: kale")
		assert.Contains(t, gen.lastPrompt, "unspecified budget")
		assert.Contains(t, gen.lastPrompt, "no pantry items")
		assert.Contains(t, gen.lastPrompt, "(no specific target)")
	})

	t.Run("ModelError", func(t *testing.T) {
		gen := &mockTextGenerator{err: errors.New("quota exceeded")}
		_, err := NewService(gen, time.Second, zap.NewNop()).Generate(ctx, Constraints{MealType: "DINNER"})
		assert.ErrorIs(t, err, ErrGenerationFailed)
	})

	t.Run("Timeout", func(t *testing.T) {
		gen := &mockTextGenerator{response: `{}`, delay: time.Second}
		_, err := NewService(gen, 20*time.Millisecond, zap.NewNop()).Generate(ctx, Constraints{MealType: "DINNER"})
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("UnparseableOutput", func(t *testing.T) {
		gen := &mockTextGenerator{response: `Sure! Here is a recipe: pasta.`}
		res, err := NewService(gen, time.Second, zap.NewNop()).Generate(ctx, Constraints{MealType: "DINNER"})
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.True(t, strings.Contains(err.Error(), "invalid response"))
		assert.Equal(t, "RecipeOracle", res.Meta.AgentName, "usage is reported even when decoding fails")
	})
}
