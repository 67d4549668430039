// Package oracle generates recipes with a language model. Callers treat it
// as opaque: give it constraints, get a recipe or ErrGenerationFailed.
package oracle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"nutriflow/internal/llm"
	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"

	"go.uber.org/zap"
)

// ErrGenerationFailed covers model errors, timeouts and unusable output.
var ErrGenerationFailed = errors.New("recipe generation failed")

//go:embed recipe_prompt.md
var recipePrompt string

var recipeTmpl = template.Must(template.New("oracle").Parse(recipePrompt))

const agentName = "RecipeOracle"

var baseAllergenTags = []string{"gluten", "dairy", "egg", "peanut", "tree nut", "soy", "fish", "shellfish", "sesame"}

// Constraints describe the recipe wanted for one meal.
type Constraints struct {
	MealType       string
	TargetCalories float64
	Avoid          []string
	Dislikes       []string
	Preferred      []string
	Budget         *float64
	CookingSkill   string
	Equipment      []string
	Pantry         []profile.PantryItem
}

type Result struct {
	Recipe recipe.Recipe
	Meta   shared.AgentMeta
}

// Service is the recipe oracle backed by a TextGenerator.
type Service struct {
	textGen llm.TextGenerator
	timeout time.Duration
	log     *zap.Logger
}

// NewService creates a new oracle. A zero timeout disables the deadline.
func NewService(textGen llm.TextGenerator, timeout time.Duration, log *zap.Logger) *Service {
	return &Service{textGen: textGen, timeout: timeout, log: log}
}

// Generate asks the model for a recipe matching c.
func (s *Service) Generate(ctx context.Context, c Constraints) (Result, error) {
	start := time.Now()

	prompt, err := buildPrompt(c)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		s.log.Warn("oracle call failed", zap.String("meal_type", c.MealType), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	meta := shared.AgentMeta{AgentName: agentName, Usage: resp.Usage, Latency: time.Since(start)}

	payload, err := recipe.DecodePayload(resp.Content)
	if err != nil {
		s.log.Warn("oracle returned unparseable recipe", zap.String("meal_type", c.MealType), zap.Error(err))
		return Result{Meta: meta}, fmt.Errorf("%w: invalid response: %w", ErrGenerationFailed, err)
	}

	r := payload.ToRecipe(recipe.SourceOracle)
	s.log.Debug("oracle generated recipe",
		zap.String("title", r.Title),
		zap.String("meal_type", c.MealType),
		zap.Duration("latency", meta.Latency),
	)
	return Result{Recipe: r, Meta: meta}, nil
}

// ForIngredient generates a recipe featuring a single ingredient.
func (s *Service) ForIngredient(ctx context.Context, ingredient string) (Result, error) {
	return s.Generate(ctx, Constraints{MealType: "main", Preferred: []string{ingredient}})
}

type promptData struct {
	MealType       string
	TargetCalories float64
	Avoid          string
	Dislikes       string
	Preferred      string
	Budget         string
	Skill          string
	Equipment      string
	Pantry         string
	AllergenTags   string
}

func buildPrompt(c Constraints) (string, error) {
	data := promptData{
		MealType:       strings.ToLower(c.MealType),
		TargetCalories: c.TargetCalories,
		Avoid:          joinOr(c.Avoid, "none"),
		Dislikes:       joinOr(c.Dislikes, "none"),
		Preferred:      joinOr(c.Preferred, "anything suitable"),
		Budget:         "unspecified budget",
		Skill:          "unspecified",
		Equipment:      joinOr(c.Equipment, "a standard kitchen"),
		Pantry:         "no pantry items",
		AllergenTags:   strings.Join(allergenTags(c.Avoid), ", "),
	}
	if data.MealType == "" {
		data.MealType = "main"
	}
	if c.Budget != nil {
		data.Budget = fmt.Sprintf("$%.2f", *c.Budget)
	}
	if c.CookingSkill != "" {
		data.Skill = strings.ToLower(c.CookingSkill)
	}
	if len(c.Pantry) > 0 {
		items := make([]string, 0, len(c.Pantry))
		for _, p := range c.Pantry {
			amount := strings.TrimSpace(fmt.Sprintf("%g %s", p.Quantity, p.Unit))
			items = append(items, fmt.Sprintf("%s (%s)", p.Name, amount))
		}
		data.Pantry = strings.Join(items, ", ")
	}

	var buf bytes.Buffer
	if err := recipeTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build oracle prompt: %w", err)
	}
	return buf.String(), nil
}

// allergenTags extends the base tag vocabulary with the avoided terms so
// generated recipes are tagged in the words the user's allergies use.
func allergenTags(avoid []string) []string {
	tags := append([]string(nil), baseAllergenTags...)
	seen := make(map[string]struct{}, len(tags)+len(avoid))
	for _, t := range tags {
		seen[t] = struct{}{}
	}
	for _, a := range avoid {
		a = strings.ToLower(strings.TrimSpace(a))
		if _, ok := seen[a]; ok || a == "" {
			continue
		}
		seen[a] = struct{}{}
		tags = append(tags, a)
	}
	return tags
}

func joinOr(items []string, fallback string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, ", ")
}
