// Package substitution detects allergens in recipes and looks up safer
// replacements.
package substitution

import (
	"context"
	"fmt"
	"strings"

	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"

	"go.uber.org/zap"
)

type UserStore interface {
	GetUser(ctx context.Context, id string) (*profile.User, error)
}

type CatalogStore interface {
	Get(ctx context.Context, id string) (*recipe.Recipe, error)
	ListIngredients(ctx context.Context, recipeID string) ([]recipe.Ingredient, error)
}

type RuleStore interface {
	FindRules(ctx context.Context, ingredient, avoid string) ([]Rule, error)
	FindRulesByIngredient(ctx context.Context, ingredient string) ([]Rule, error)
}

// Offender is an ingredient flagged by one of its allergen tags.
type Offender struct {
	Ingredient string `json:"ingredient"`
	Allergen   string `json:"allergen"`
}

type Suggestion struct {
	Ingredient string `json:"ingredient"`
	Substitute string `json:"substitute"`
	Note       string `json:"note"`
}

// CheckResult is the outcome of checking a recipe against a user.
type CheckResult struct {
	RecipeID     string       `json:"recipe_id"`
	UserID       string       `json:"user_id"`
	HasAllergens bool         `json:"has_allergens"`
	Offenders    []Offender   `json:"offenders"`
	Suggestions  []Suggestion `json:"suggestions"`
}

// Resolver answers allergen and substitution queries. It keeps no state
// between calls.
type Resolver struct {
	users   UserStore
	catalog CatalogStore
	rules   RuleStore
	log     *zap.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(users UserStore, catalog CatalogStore, rules RuleStore, log *zap.Logger) *Resolver {
	return &Resolver{users: users, catalog: catalog, rules: rules, log: log}
}

// CheckRecipe flags every ingredient of the recipe carrying an allergen
// tag that matches one of the user's allergies, and suggests substitutes
// for the flagged ingredients.
func (r *Resolver) CheckRecipe(ctx context.Context, recipeID, userID string) (*CheckResult, error) {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Existence is checked explicitly; an empty ingredient list is not proof.
	if _, err := r.catalog.Get(ctx, recipeID); err != nil {
		return nil, err
	}
	ingredients, err := r.catalog.ListIngredients(ctx, recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingredients of %s: %w", recipeID, err)
	}

	result := &CheckResult{
		RecipeID:    recipeID,
		UserID:      userID,
		Offenders:   []Offender{},
		Suggestions: []Suggestion{},
	}

	allergies := normalizeTerms(user.Allergies)
	for _, ing := range ingredients {
		if tag, ok := firstMatchingTag(ing.AllergenTags, allergies); ok {
			result.Offenders = append(result.Offenders, Offender{Ingredient: ing.Name, Allergen: tag})
		}
	}
	result.HasAllergens = len(result.Offenders) > 0

	for _, off := range result.Offenders {
		rules, err := r.rules.FindRules(ctx, off.Ingredient, off.Allergen)
		if err != nil {
			return nil, err
		}
		if len(rules) == 0 {
			if rules, err = r.rules.FindRulesByIngredient(ctx, off.Ingredient); err != nil {
				return nil, err
			}
		}
		for _, rule := range rules {
			result.Suggestions = append(result.Suggestions, toSuggestion(off.Ingredient, rule))
		}
	}

	r.log.Debug("recipe checked",
		zap.String("recipe_id", recipeID),
		zap.String("user_id", userID),
		zap.Int("offenders", len(result.Offenders)),
		zap.Int("suggestions", len(result.Suggestions)),
	)
	return result, nil
}

// FindSubstitutions looks rules up directly. A non-blank avoid restricts
// the lookup to rules naming it, with no fallback; a blank avoid returns
// every rule for the ingredient.
func (r *Resolver) FindSubstitutions(ctx context.Context, ingredient, avoid string) ([]Suggestion, error) {
	var (
		rules []Rule
		err   error
	)
	if strings.TrimSpace(avoid) != "" {
		rules, err = r.rules.FindRules(ctx, ingredient, avoid)
	} else {
		rules, err = r.rules.FindRulesByIngredient(ctx, ingredient)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toSuggestion(ingredient, rule))
	}
	return out, nil
}

// firstMatchingTag returns the first tag, in tag order, found in allergies.
func firstMatchingTag(tags []string, allergies map[string]struct{}) (string, bool) {
	for _, tag := range tags {
		if _, ok := allergies[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return tag, true
		}
	}
	return "", false
}

func normalizeTerms(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// toSuggestion labels the rule with the ingredient as the caller named it,
// since rules match regardless of case.
func toSuggestion(ingredient string, rule Rule) Suggestion {
	return Suggestion{Ingredient: ingredient, Substitute: rule.Substitute, Note: rule.Note}
}
