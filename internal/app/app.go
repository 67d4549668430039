package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutriflow/internal/clipper"
	"nutriflow/internal/config"
	"nutriflow/internal/database"
	"nutriflow/internal/llm"
	"nutriflow/internal/metrics"
	"nutriflow/internal/oracle"
	"nutriflow/internal/planner"
	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"
	"nutriflow/internal/shopping"
	"nutriflow/internal/substitution"

	"go.uber.org/zap"
)

// UsageObserver receives planner events and model usage, e.g. the
// Prometheus collectors.
type UsageObserver interface {
	planner.Observer
	ObserveUsage(metas []shared.AgentMeta)
}

// App holds the application's dependencies.
type App struct {
	db  *database.DB
	cfg *config.Config
	log *zap.Logger

	profiles     *profile.Repository
	recipes      *recipe.Repository
	rules        *substitution.RuleRepository
	plans        *planner.PlanRepository
	shoppingRepo *shopping.Repository
	metricsStore *metrics.Store

	mealPlanner   *planner.Planner
	resolver      *substitution.Resolver
	oracle        *oracle.Service
	recipeClipper *clipper.Clipper
	observer      UsageObserver
}

// NewApp wires repositories and services on top of an open database.
// observer may be nil.
func NewApp(db *database.DB, textGen llm.TextGenerator, cfg *config.Config, log *zap.Logger, observer UsageObserver) *App {
	profiles := profile.NewRepository(db.SQL)
	recipes := recipe.NewRepository(db.SQL)
	rules := substitution.NewRuleRepository(db.SQL)
	recipeOracle := oracle.NewService(textGen, cfg.OracleTimeout, log.Named("oracle"))

	fallback := planner.FallbackCatalogOrder
	if cfg.PlannerFallback == config.FallbackOracle {
		fallback = planner.FallbackOracle
	}
	opts := planner.Options{
		Fallback:           fallback,
		DefaultMealsPerDay: cfg.DefaultMealsPerDay,
		WeekConcurrency:    cfg.WeekConcurrency,
	}
	if observer != nil {
		opts.Observer = observer
	}

	return &App{
		db:            db,
		cfg:           cfg,
		log:           log,
		profiles:      profiles,
		recipes:       recipes,
		rules:         rules,
		plans:         planner.NewPlanRepository(db.SQL),
		shoppingRepo:  shopping.NewRepository(db.SQL),
		metricsStore:  metrics.NewStore(db.SQL),
		mealPlanner:   planner.NewPlanner(profiles, recipes, recipeOracle, log.Named("planner"), opts),
		resolver:      substitution.NewResolver(profiles, recipes, rules, log.Named("substitution")),
		oracle:        recipeOracle,
		recipeClipper: clipper.NewClipper(recipe.NewExtractor(textGen), recipes, log.Named("clipper")),
		observer:      observer,
	}
}

// WeekResult is a persisted weekly plan with its shopping list.
type WeekResult struct {
	Plan     *planner.WeeklyPlan
	Shopping *shopping.ShoppingList
	Usage    shared.TokenUsage
}

// PlanWeek assembles, saves and derives the shopping list of a week.
func (a *App) PlanWeek(ctx context.Context, req planner.WeekRequest) (*WeekResult, error) {
	plan, metas, err := a.mealPlanner.AssembleWeek(ctx, req)
	a.recordUsage(ctx, metas)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble week: %w", err)
	}

	if err := a.plans.Save(ctx, plan); err != nil {
		return nil, err
	}

	pantry, err := a.profiles.ListPantry(ctx, plan.UserID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pantry))
	for _, p := range pantry {
		names = append(names, p.Name)
	}

	list := &shopping.ShoppingList{
		UserID:     plan.UserID,
		MealPlanID: plan.ID,
		Items:      shopping.Build(plan.Recipes(), names),
		CreatedAt:  time.Now().UTC(),
	}
	id, err := a.shoppingRepo.Save(ctx, list)
	if err != nil {
		return nil, err
	}
	list.ID = id

	for _, d := range plan.Diagnostics() {
		a.log.Debug("slot left empty",
			zap.String("plan_id", plan.ID),
			zap.String("day", d.Day),
			zap.String("meal_type", string(d.MealType)),
			zap.String("code", string(d.Code)),
		)
	}
	return &WeekResult{Plan: plan, Shopping: list, Usage: shared.TotalUsage(metas)}, nil
}

// PlanDay assembles a single day. Daily plans are not persisted.
func (a *App) PlanDay(ctx context.Context, req planner.DayRequest) (*planner.DailyPlan, error) {
	day, metas, err := a.mealPlanner.AssembleDay(ctx, req)
	a.recordUsage(ctx, metas)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble day: %w", err)
	}
	return day, nil
}

// PlanExistsForWeek reports whether the user already has a plan for the
// week starting on weekStart.
func (a *App) PlanExistsForWeek(ctx context.Context, userID string, weekStart time.Time) (bool, error) {
	return a.plans.ExistsForWeek(ctx, userID, weekStart)
}

// RecentPlans lists the latest plans of a user, newest first.
func (a *App) RecentPlans(ctx context.Context, userID string, limit int) ([]planner.WeeklyPlan, error) {
	return a.plans.ListRecentByUserID(ctx, userID, limit)
}

// ShoppingList returns the list saved for a plan, or nil.
func (a *App) ShoppingList(ctx context.Context, planID string) (*shopping.ShoppingList, error) {
	return a.shoppingRepo.GetByMealPlanID(ctx, planID)
}

func (a *App) CheckRecipe(ctx context.Context, recipeID, userID string) (*substitution.CheckResult, error) {
	return a.resolver.CheckRecipe(ctx, recipeID, userID)
}

func (a *App) Substitutions(ctx context.Context, ingredient, avoid string) ([]substitution.Suggestion, error) {
	return a.resolver.FindSubstitutions(ctx, ingredient, avoid)
}

// RecipeForIngredient returns a catalog recipe using ingredient. When
// none exists one is generated and added to the catalog.
func (a *App) RecipeForIngredient(ctx context.Context, ingredient string) (*recipe.Recipe, error) {
	ingredient = strings.TrimSpace(ingredient)
	if ingredient == "" {
		return nil, fmt.Errorf("ingredient is required")
	}

	found, err := a.recipes.FindByIngredient(ctx, ingredient)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, recipe.ErrRecipeNotFound) {
		return nil, err
	}

	res, err := a.oracle.ForIngredient(ctx, ingredient)
	a.recordUsage(ctx, []shared.AgentMeta{res.Meta})
	if err != nil {
		return nil, err
	}
	if err := a.recipes.Save(ctx, res.Recipe); err != nil {
		return nil, err
	}
	a.log.Info("generated recipe added to catalog",
		zap.String("ingredient", ingredient),
		zap.String("recipe_id", res.Recipe.ID),
	)
	return &res.Recipe, nil
}

// ImportRecipe clips a recipe page into the catalog.
func (a *App) ImportRecipe(ctx context.Context, url string) (*recipe.Recipe, error) {
	rec, meta, err := a.recipeClipper.ClipURL(ctx, url)
	a.recordUsage(ctx, []shared.AgentMeta{meta})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Usage returns the daily model usage of the last days and a snapshot of
// the process health.
func (a *App) Usage(ctx context.Context, days int) ([]metrics.DailyUsage, metrics.SysHealth, error) {
	usage, err := a.metricsStore.GetDailyUsage(ctx, days)
	if err != nil {
		return nil, metrics.SysHealth{}, err
	}
	return usage, metrics.GetSysHealth(a.db.Path), nil
}

// CleanupMetrics removes usage records older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) (int64, error) {
	return a.metricsStore.Cleanup(ctx, days)
}

// recordUsage never fails the caller; metrics are best effort. Metas of
// calls that never reached a model carry no agent name and are dropped.
func (a *App) recordUsage(ctx context.Context, metas []shared.AgentMeta) {
	reached := make([]shared.AgentMeta, 0, len(metas))
	for _, m := range metas {
		if m.AgentName != "" {
			reached = append(reached, m)
		}
	}
	metas = reached
	if len(metas) == 0 {
		return
	}
	if err := a.metricsStore.RecordAll(ctx, metas); err != nil {
		a.log.Warn("failed to record metrics", zap.Error(err))
	}
	if a.observer != nil {
		a.observer.ObserveUsage(metas)
	}
}
