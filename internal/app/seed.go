package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/substitution"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fixture is the layout of a seed file.
type Fixture struct {
	Users   []profile.User            `json:"users"`
	Targets []profile.NutritionTarget `json:"targets"`
	Pantry  []profile.PantryItem      `json:"pantry"`
	Recipes []recipe.Recipe           `json:"recipes"`
	Rules   []substitution.Rule       `json:"rules"`
}

// SeedStats counts what a seed run wrote.
type SeedStats struct {
	Users, Targets, Pantry, Recipes, Rules int
}

// SeedFromFile loads a JSON fixture into the database.
func (a *App) SeedFromFile(ctx context.Context, path string) (SeedStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedStats{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return SeedStats{}, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return a.Seed(ctx, f)
}

// Seed writes users, targets, pantry items, recipes and rules. Users,
// targets and recipes are upserted. Rules that already exist for the
// same ingredient and substitute are skipped, so seeding twice is safe
// except for pantry items, which are always appended.
func (a *App) Seed(ctx context.Context, f Fixture) (SeedStats, error) {
	var stats SeedStats

	for _, u := range f.Users {
		if err := a.profiles.SaveUser(ctx, u); err != nil {
			return stats, err
		}
		stats.Users++
	}
	for _, t := range f.Targets {
		if err := a.profiles.SaveNutritionTarget(ctx, t); err != nil {
			return stats, err
		}
		stats.Targets++
	}
	for _, p := range f.Pantry {
		if _, err := a.profiles.AddPantryItem(ctx, p); err != nil {
			return stats, err
		}
		stats.Pantry++
	}
	for _, r := range f.Recipes {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if err := a.recipes.Save(ctx, r); err != nil {
			return stats, fmt.Errorf("failed to seed recipe %q: %w", r.Title, err)
		}
		stats.Recipes++
	}
	for _, rule := range f.Rules {
		existing, err := a.rules.FindRulesByIngredient(ctx, rule.Ingredient)
		if err != nil {
			return stats, err
		}
		if hasRule(existing, rule) {
			continue
		}
		if _, err := a.rules.Save(ctx, rule); err != nil {
			return stats, err
		}
		stats.Rules++
	}

	a.log.Info("seed complete",
		zap.Int("users", stats.Users),
		zap.Int("targets", stats.Targets),
		zap.Int("pantry", stats.Pantry),
		zap.Int("recipes", stats.Recipes),
		zap.Int("rules", stats.Rules),
	)
	return stats, nil
}

func hasRule(existing []substitution.Rule, rule substitution.Rule) bool {
	for _, e := range existing {
		if e.Substitute != rule.Substitute {
			continue
		}
		if (e.Avoid == nil) == (rule.Avoid == nil) && (e.Avoid == nil || *e.Avoid == *rule.Avoid) {
			return true
		}
	}
	return false
}
