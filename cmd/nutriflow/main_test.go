package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nutriflow/internal/app"
	"nutriflow/internal/config"
	"nutriflow/internal/database"
	"nutriflow/internal/llm"
	"nutriflow/internal/shared"

	"go.uber.org/zap"
)

type noopTextGenerator struct{}

func (noopTextGenerator) GenerateContent(context.Context, string) (llm.ContentResponse, error) {
	return llm.ContentResponse{Usage: shared.TokenUsage{}}, nil
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "cli.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	cfg := &config.Config{PlannerFallback: config.FallbackCatalog, DefaultMealsPerDay: 3, WeekConcurrency: 2, OracleTimeout: time.Second}
	a := app.NewApp(db, noopTextGenerator{}, cfg, zap.NewNop(), nil)

	steps := [][]string{
		{"seed", "-file", "../../data/seed.json"},
		{"history", "-user", "alice"},
		{"plan-week", "-user", "alice", "-week", "2024-03-06"},
		{"history", "-user", "alice", "-limit", "1"},
	}
	for _, step := range steps {
		if err := run(ctx, a, step[0], step[1:]); err != nil {
			t.Fatalf("%v failed: %v", step, err)
		}
	}

	plans, err := a.RecentPlans(ctx, "alice", 1)
	if err != nil || len(plans) != 1 {
		t.Fatalf("Expected one plan, got %d, %v", len(plans), err)
	}
	list, err := a.ShoppingList(ctx, plans[0].ID)
	if err != nil || list == nil || len(list.Items) == 0 {
		t.Fatalf("Expected a saved shopping list, got %+v, %v", list, err)
	}

	if err := run(ctx, a, "nope", nil); err == nil {
		t.Error("Expected error for unknown command")
	}
}
