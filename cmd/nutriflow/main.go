package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"nutriflow/internal/app"
	"nutriflow/internal/config"
	"nutriflow/internal/database"
	"nutriflow/internal/llm"
	"nutriflow/internal/logger"
	"nutriflow/internal/planner"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	cfg, err := config.NewFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogMode)
	defer log.Sync()

	textGen, closeGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize language model client", zap.Error(err))
	}
	defer closeGen()

	db, err := database.NewDB(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	application := app.NewApp(db, textGen, cfg, log, nil)

	if err := run(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		log.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		db.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	switch command {
	case "seed":
		cmd := flag.NewFlagSet("seed", flag.ExitOnError)
		file := cmd.String("file", "data/seed.json", "Path to the JSON fixture")
		cmd.Parse(args)

		stats, err := a.SeedFromFile(ctx, *file)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d users, %d targets, %d pantry items, %d recipes and %d rules.\n",
			stats.Users, stats.Targets, stats.Pantry, stats.Recipes, stats.Rules)

	case "plan-day":
		cmd := flag.NewFlagSet("plan-day", flag.ExitOnError)
		pf := addPlanFlags(cmd)
		date := cmd.String("date", "", "Day to plan (YYYY-MM-DD), defaults to today")
		cmd.Parse(args)

		req := planner.DayRequest{
			UserID:      *pf.user,
			MealsPerDay: *pf.meals,
			Allergens:   splitList(*pf.allergens),
			Preferred:   splitList(*pf.preferred),
			Mode:        pf.mode(),
		}
		if *date != "" {
			d, err := time.Parse("2006-01-02", *date)
			if err != nil {
				return fmt.Errorf("invalid -date: %w", err)
			}
			req.Date = d
		}
		day, err := a.PlanDay(ctx, req)
		if err != nil {
			return err
		}
		printDay(day)

	case "plan-week":
		cmd := flag.NewFlagSet("plan-week", flag.ExitOnError)
		pf := addPlanFlags(cmd)
		week := cmd.String("week", "", "Any day of the week to plan (YYYY-MM-DD), defaults to next week")
		cmd.Parse(args)

		req := planner.WeekRequest{
			UserID:      *pf.user,
			MealsPerDay: *pf.meals,
			Allergens:   splitList(*pf.allergens),
			Preferred:   splitList(*pf.preferred),
			Mode:        pf.mode(),
		}
		if *week != "" {
			d, err := time.Parse("2006-01-02", *week)
			if err != nil {
				return fmt.Errorf("invalid -week: %w", err)
			}
			req.WeekStart = d
		}
		res, err := a.PlanWeek(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("\n=== WEEKLY MEAL PLAN (%s) ===\n", res.Plan.WeekStart.Format("2006-01-02"))
		for i := range res.Plan.Days {
			printDay(&res.Plan.Days[i])
		}
		fmt.Println("\n=== SHOPPING LIST ===")
		for _, item := range res.Shopping.Items {
			fmt.Printf("- %s\n", item)
		}
		fmt.Printf("\nPlan ID: %s\n", res.Plan.ID)

	case "history":
		cmd := flag.NewFlagSet("history", flag.ExitOnError)
		user := cmd.String("user", "", "User ID")
		limit := cmd.Int("limit", 5, "Number of plans to show")
		cmd.Parse(args)

		plans, err := a.RecentPlans(ctx, *user, *limit)
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			fmt.Println("No plans yet.")
		}
		for _, p := range plans {
			fmt.Printf("%s  week of %s  %d meals/day  %d skipped\n",
				p.ID, p.WeekStart.Format("2006-01-02"), p.MealsPerDay, len(p.Diagnostics()))
			list, err := a.ShoppingList(ctx, p.ID)
			if err != nil {
				return err
			}
			if list == nil {
				continue
			}
			for _, item := range list.Items {
				fmt.Printf("    - %s\n", item)
			}
		}

	case "check":
		cmd := flag.NewFlagSet("check", flag.ExitOnError)
		recipeID := cmd.String("recipe", "", "Recipe ID")
		user := cmd.String("user", "", "User ID")
		cmd.Parse(args)

		res, err := a.CheckRecipe(ctx, *recipeID, *user)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "substitutions":
		cmd := flag.NewFlagSet("substitutions", flag.ExitOnError)
		ingredient := cmd.String("ingredient", "", "Ingredient to replace")
		avoid := cmd.String("avoid", "", "Allergen or reason to avoid it")
		cmd.Parse(args)

		subs, err := a.Substitutions(ctx, *ingredient, *avoid)
		if err != nil {
			return err
		}
		return printJSON(subs)

	case "recipe-for":
		cmd := flag.NewFlagSet("recipe-for", flag.ExitOnError)
		ingredient := cmd.String("ingredient", "", "Ingredient the recipe must use")
		cmd.Parse(args)

		rec, err := a.RecipeForIngredient(ctx, *ingredient)
		if err != nil {
			return err
		}
		return printJSON(rec)

	case "import":
		cmd := flag.NewFlagSet("import", flag.ExitOnError)
		url := cmd.String("url", "", "Recipe page URL")
		cmd.Parse(args)
		if *url == "" && cmd.NArg() > 0 {
			*url = cmd.Arg(0)
		}

		rec, err := a.ImportRecipe(ctx, *url)
		if err != nil {
			return err
		}
		fmt.Printf("Imported '%s' (ID: %s) with %d ingredients.\n", rec.Title, rec.ID, len(rec.Ingredients))

	case "metrics-cleanup":
		cmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := cmd.Int("days", 30, "Keep records for the last N days")
		cmd.Parse(args)

		affected, err := a.CleanupMetrics(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully removed %d old metric records.\n", affected)

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

type planFlags struct {
	user      *string
	meals     *int
	allergens *string
	preferred *string
	generate  *bool
}

func addPlanFlags(cmd *flag.FlagSet) planFlags {
	return planFlags{
		user:      cmd.String("user", "", "User ID"),
		meals:     cmd.Int("meals", 0, "Meals per day (1-6), 0 uses DEFAULT_MEALS_PER_DAY"),
		allergens: cmd.String("allergens", "", "Extra comma-separated allergens to exclude"),
		preferred: cmd.String("preferred", "", "Comma-separated preferred ingredients (generate mode)"),
		generate:  cmd.Bool("generate", false, "Generate every meal instead of using the catalog"),
	}
}

func (f planFlags) mode() planner.Mode {
	if *f.generate {
		return planner.ModeGenerate
	}
	return planner.ModeCatalog
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printDay(day *planner.DailyPlan) {
	fmt.Printf("%-10s %s (%.0f kcal)\n", day.Day, day.Date.Format("2006-01-02"), day.TotalCalories())
	for _, m := range day.Meals {
		fmt.Printf("  %-10s %s [%s]\n", m.MealType, m.Recipe.Title, m.Source)
	}
	for _, d := range day.Diagnostics {
		fmt.Printf("  %-10s skipped: %s (%s)\n", d.MealType, d.Message, d.Code)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printUsage() {
	fmt.Println("Usage: nutriflow <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  seed               Load users, targets, pantry, recipes and rules from a JSON file")
	fmt.Println("  plan-day           Assemble the meals of one day")
	fmt.Println("  plan-week          Assemble and save a weekly plan with its shopping list")
	fmt.Println("  history            List recent weekly plans with their shopping lists")
	fmt.Println("  check              Check a recipe against a user's allergies")
	fmt.Println("  substitutions      Look up substitutes for an ingredient")
	fmt.Println("  recipe-for         Find or generate a recipe using an ingredient")
	fmt.Println("  import             Import a recipe from a URL")
	fmt.Println("  metrics-cleanup    Remove old metric records")
}
