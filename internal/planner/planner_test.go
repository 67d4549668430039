package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"nutriflow/internal/oracle"
	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type fakeProfiles struct {
	users   map[string]*profile.User
	targets map[string]*profile.NutritionTarget
	pantry  map[string][]profile.PantryItem
}

func (f *fakeProfiles) GetUser(_ context.Context, id string) (*profile.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %s", profile.ErrUserNotFound, id)
}

func (f *fakeProfiles) GetNutritionTarget(_ context.Context, id string) (*profile.NutritionTarget, error) {
	if t, ok := f.targets[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", profile.ErrTargetNotConfigured, id)
}

func (f *fakeProfiles) ListPantry(_ context.Context, id string) ([]profile.PantryItem, error) {
	return f.pantry[id], nil
}

type fakeCatalog struct {
	mu      sync.Mutex
	recipes []recipe.Recipe
	err     error
	calls   int
}

func (f *fakeCatalog) ListAll(context.Context) ([]recipe.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]recipe.Recipe, len(f.recipes))
	copy(out, f.recipes)
	return out, nil
}

type fakeOracle struct {
	mu       sync.Mutex
	calls    []oracle.Constraints
	failFor  map[string]bool
	contains string
}

func (f *fakeOracle) Generate(ctx context.Context, c oracle.Constraints) (oracle.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return oracle.Result{}, fmt.Errorf("%w: %w", oracle.ErrGenerationFailed, err)
	}
	meta := shared.AgentMeta{AgentName: "RecipeOracle", Usage: shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}
	if f.failFor[c.MealType] {
		return oracle.Result{Meta: meta}, fmt.Errorf("%w: model timeout", oracle.ErrGenerationFailed)
	}
	kcal := c.TargetCalories
	ingredient := "chickpeas"
	if f.contains != "" {
		ingredient = f.contains
	}
	return oracle.Result{
		Recipe: recipe.Recipe{
			ID:          "gen-" + strings.ToLower(c.MealType),
			Title:       "Generated " + c.MealType,
			Calories:    &kcal,
			Ingredients: []recipe.Ingredient{{Name: ingredient}},
			Source:      recipe.SourceOracle,
		},
		Meta: meta,
	}, nil
}

type countingObserver struct {
	mu      sync.Mutex
	filled  map[string]int
	skipped map[DiagnosticCode]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{filled: map[string]int{}, skipped: map[DiagnosticCode]int{}}
}

func (o *countingObserver) SlotFilled(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filled[source]++
}

func (o *countingObserver) SlotSkipped(code DiagnosticCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped[code]++
}

func (o *countingObserver) PlanAssembled(string, time.Duration) {}

// --- Fixtures ---

func kcal(v float64) *float64 { return &v }

func rec(id string, calories *float64, ingredients ...string) recipe.Recipe {
	r := recipe.Recipe{ID: id, Title: id, Calories: calories}
	for _, name := range ingredients {
		r.Ingredients = append(r.Ingredients, recipe.Ingredient{Name: name})
	}
	r.IngredientsText = strings.Join(ingredients, ", ")
	return r
}

// 2023-10-18 is a Wednesday.
var fixedNow = time.Date(2023, 10, 18, 15, 30, 0, 0, time.UTC)

func newProfiles() *fakeProfiles {
	budget := 60.0
	return &fakeProfiles{
		users: map[string]*profile.User{
			"u1": {
				ID:              "u1",
				Allergies:       []string{"Peanut"},
				Dislikes:        []string{"olive"},
				Budget:          &budget,
				CookingSkill:    profile.SkillIntermediate,
				Equipment:       []string{"oven"},
				LinkedAccountID: "acc-1",
			},
			"unlinked":  {ID: "unlinked"},
			"notarget":  {ID: "notarget", LinkedAccountID: "acc-2"},
			"nocalorie": {ID: "nocalorie", LinkedAccountID: "acc-3"},
		},
		targets: map[string]*profile.NutritionTarget{
			"u1":        {UserID: "u1", Calories: kcal(2000)},
			"unlinked":  {UserID: "unlinked", Calories: kcal(2000)},
			"nocalorie": {UserID: "nocalorie"},
		},
		pantry: map[string][]profile.PantryItem{
			"u1": {{Name: "rice", Quantity: 1, Unit: "kg"}},
		},
	}
}

func newTestPlanner(catalog CatalogStore, orc RecipeOracle, opts Options) *Planner {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewPlanner(newProfiles(), catalog, orc, zap.NewNop(), opts)
}

// --- Tests ---

func TestSlotTargets(t *testing.T) {
	t.Run("ThreeMealsOf2000", func(t *testing.T) {
		slots, err := SlotTargets(2000, 3)
		require.NoError(t, err)
		assert.Equal(t, []SlotTarget{
			{MealType: MealBreakfast, Calories: 600},
			{MealType: MealLunch, Calories: 700},
			{MealType: MealDinner, Calories: 700},
		}, slots)
	})

	t.Run("EveryRowSumsToTarget", func(t *testing.T) {
		for meals := 1; meals <= MaxMealsPerDay; meals++ {
			slots, err := SlotTargets(2000, meals)
			require.NoError(t, err)
			require.Len(t, slots, meals)
			var sum float64
			for _, s := range slots {
				sum += s.Calories
			}
			assert.InDelta(t, 2000, sum, 1e-9, "meals=%d", meals)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := SlotTargets(2000, 7)
		assert.ErrorIs(t, err, ErrUnsupportedMealCount)
		_, err = SlotTargets(2000, 0)
		assert.ErrorIs(t, err, ErrUnsupportedMealCount)
	})
}

func TestClosestMatch(t *testing.T) {
	t.Run("PrefersInsideWindow", func(t *testing.T) {
		candidates := []recipe.Recipe{
			rec("far", kcal(1000)),
			rec("edge", kcal(840)),
			rec("near", kcal(720)),
			rec("unknown", nil),
		}
		best, ok := closestMatch(candidates, 700)
		require.True(t, ok)
		assert.Equal(t, "near", best.ID)
	})

	t.Run("InclusiveTolerance", func(t *testing.T) {
		best, ok := closestMatch([]recipe.Recipe{rec("edge", kcal(840))}, 700)
		require.True(t, ok)
		assert.Equal(t, "edge", best.ID)

		_, ok = closestMatch([]recipe.Recipe{rec("out", kcal(841))}, 700)
		assert.False(t, ok)
	})

	t.Run("TieKeepsCatalogOrder", func(t *testing.T) {
		best, ok := closestMatch([]recipe.Recipe{rec("a", kcal(650)), rec("b", kcal(750))}, 700)
		require.True(t, ok)
		assert.Equal(t, "a", best.ID)
	})

	t.Run("NeverPicksOutsideOverInside", func(t *testing.T) {
		target := 600.0
		for _, outside := range []float64{0, 100, 479, 721, 2000} {
			for _, inside := range []float64{480, 550, 600, 650, 720} {
				for _, order := range [][]recipe.Recipe{
					{rec("out", kcal(outside)), rec("in", kcal(inside))},
					{rec("in", kcal(inside)), rec("out", kcal(outside))},
				} {
					best, ok := closestMatch(order, target)
					require.True(t, ok)
					assert.Equal(t, "in", best.ID, "outside=%v inside=%v", outside, inside)
				}
			}
		}
	})
}

func TestEligible(t *testing.T) {
	catalog := []recipe.Recipe{
		rec("satay", kcal(600), "chicken", "PEANUT sauce"),
		rec("tapenade", kcal(600), "Black Olives", "bread"),
		rec("shrimp", kcal(600), "shrimp", "garlic"),
		rec("oats", kcal(600), "oats", "milk"),
	}
	exclusions := exclusionTerms([]string{"peanut"}, []string{"olive", "  "}, []string{"Shrimp", ""})
	assert.Equal(t, []string{"peanut", "olive", "shrimp"}, exclusions)

	got := eligible(catalog, exclusions)
	require.Len(t, got, 1)
	assert.Equal(t, "oats", got[0].ID)

	t.Run("RawTextAlsoChecked", func(t *testing.T) {
		r := recipe.Recipe{ID: "text-only", IngredientsText: "2 tbsp peanut butter"}
		assert.Empty(t, eligible([]recipe.Recipe{r}, exclusions))
	})

	t.Run("BlankExclusionsKeepEverything", func(t *testing.T) {
		assert.Len(t, eligible(catalog, exclusionTerms([]string{"", " "})), len(catalog))
	})
}

func TestAssembleDay(t *testing.T) {
	ctx := context.Background()

	catalog := &fakeCatalog{recipes: []recipe.Recipe{
		rec("pb-toast", kcal(600), "bread", "peanut butter"),
		rec("porridge", kcal(580), "oats", "milk"),
		rec("olive-pasta", kcal(700), "pasta", "olives"),
		rec("curry", kcal(690), "lentils", "rice"),
		rec("salad", kcal(350), "lettuce"),
	}}

	t.Run("ClosestMatchPerSlot", func(t *testing.T) {
		obs := newCountingObserver()
		p := newTestPlanner(catalog, nil, Options{Observer: obs})
		day, metas, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", MealsPerDay: 3})
		require.NoError(t, err)
		assert.Empty(t, metas)

		assert.Equal(t, "Wednesday", day.Day)
		assert.Equal(t, time.Date(2023, 10, 18, 0, 0, 0, 0, time.UTC), day.Date)
		require.Len(t, day.Meals, 3)
		assert.Equal(t, MealBreakfast, day.Meals[0].MealType)
		assert.Equal(t, 600.0, day.Meals[0].TargetCalories)
		assert.Equal(t, "porridge", day.Meals[0].Recipe.ID, "peanut recipe is excluded")
		assert.Equal(t, "curry", day.Meals[1].Recipe.ID, "olive recipe is excluded by dislike")
		assert.Equal(t, "curry", day.Meals[2].Recipe.ID)
		assert.Equal(t, SourceCatalogMatch, day.Meals[2].Source)
		assert.Empty(t, day.Diagnostics)
		assert.Equal(t, 3, obs.filled[SourceCatalogMatch])
	})

	t.Run("RequestAllergensAreExcluded", func(t *testing.T) {
		p := newTestPlanner(catalog, nil, Options{})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", Allergens: []string{"LENTIL"}})
		require.NoError(t, err)
		for _, m := range day.Meals {
			assert.NotEqual(t, "curry", m.Recipe.ID)
		}
	})

	t.Run("FallbackToFirstEligible", func(t *testing.T) {
		far := &fakeCatalog{recipes: []recipe.Recipe{
			rec("satay", kcal(100), "peanut"),
			rec("soup", kcal(150), "carrot"),
			rec("stew", kcal(1500), "beef"),
		}}
		p := newTestPlanner(far, nil, Options{})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", MealsPerDay: 1})
		require.NoError(t, err)
		require.Len(t, day.Meals, 1)
		assert.Equal(t, "soup", day.Meals[0].Recipe.ID)
		assert.Equal(t, SourceCatalogFallback, day.Meals[0].Source)
	})

	t.Run("FallbackToOracle", func(t *testing.T) {
		far := &fakeCatalog{recipes: []recipe.Recipe{rec("soup", kcal(150), "carrot")}}
		orc := &fakeOracle{}
		p := newTestPlanner(far, orc, Options{Fallback: FallbackOracle})
		day, metas, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", MealsPerDay: 2, Preferred: []string{"tofu"}})
		require.NoError(t, err)
		require.Len(t, day.Meals, 2)
		assert.Equal(t, SourceOracle, day.Meals[0].Source)
		assert.Len(t, metas, 2)

		require.Len(t, orc.calls, 2)
		c := orc.calls[0]
		assert.Equal(t, "LUNCH", c.MealType)
		assert.Equal(t, 1000.0, c.TargetCalories)
		assert.Equal(t, []string{"peanut"}, c.Avoid)
		assert.Equal(t, []string{"olive"}, c.Dislikes)
		assert.Equal(t, []string{"tofu"}, c.Preferred)
		assert.Equal(t, "INTERMEDIATE", c.CookingSkill)
		assert.Equal(t, 60.0, *c.Budget)
		assert.Equal(t, "rice", c.Pantry[0].Name)
	})

	t.Run("EmptyCatalogGivesDiagnostics", func(t *testing.T) {
		obs := newCountingObserver()
		p := newTestPlanner(&fakeCatalog{}, nil, Options{Observer: obs})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1"})
		require.NoError(t, err)
		assert.Empty(t, day.Meals)
		require.Len(t, day.Diagnostics, 3)
		assert.Equal(t, NoEligibleCandidate, day.Diagnostics[0].Code)
		assert.Equal(t, MealBreakfast, day.Diagnostics[0].MealType)
		assert.Equal(t, "Wednesday", day.Diagnostics[0].Day)
		assert.Equal(t, 3, obs.skipped[NoEligibleCandidate])
	})

	t.Run("AllExcludedGivesDiagnostics", func(t *testing.T) {
		p := newTestPlanner(&fakeCatalog{recipes: []recipe.Recipe{rec("satay", kcal(600), "peanut")}}, nil, Options{})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", MealsPerDay: 1})
		require.NoError(t, err)
		assert.Empty(t, day.Meals)
		assert.Equal(t, NoEligibleCandidate, day.Diagnostics[0].Code)
	})

	t.Run("GenerateModeSlotFailureKeepsOtherSlots", func(t *testing.T) {
		orc := &fakeOracle{failFor: map[string]bool{"LUNCH": true}}
		cat := &fakeCatalog{}
		p := newTestPlanner(cat, orc, Options{})
		day, metas, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", Mode: ModeGenerate})
		require.NoError(t, err)
		require.Len(t, day.Meals, 2)
		assert.Equal(t, MealBreakfast, day.Meals[0].MealType)
		assert.Equal(t, MealDinner, day.Meals[1].MealType)
		require.Len(t, day.Diagnostics, 1)
		assert.Equal(t, GenerationFailed, day.Diagnostics[0].Code)
		assert.Equal(t, MealLunch, day.Diagnostics[0].MealType)
		assert.Len(t, metas, 3)
		assert.Zero(t, cat.calls, "generate mode never reads the catalog")
	})

	t.Run("GeneratedRecipeWithExcludedIngredientIsRejected", func(t *testing.T) {
		orc := &fakeOracle{contains: "Peanut brittle"}
		p := newTestPlanner(&fakeCatalog{}, orc, Options{})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", Mode: ModeGenerate, MealsPerDay: 1})
		require.NoError(t, err)
		assert.Empty(t, day.Meals)
		assert.Equal(t, GenerationFailed, day.Diagnostics[0].Code)
	})

	t.Run("GenerateModeWithoutOracle", func(t *testing.T) {
		p := newTestPlanner(&fakeCatalog{}, nil, Options{})
		day, _, err := p.AssembleDay(ctx, DayRequest{UserID: "u1", Mode: ModeGenerate, MealsPerDay: 1})
		require.NoError(t, err)
		assert.Equal(t, GenerationFailed, day.Diagnostics[0].Code)
	})

	t.Run("MissingCaloriesDefaultTo2000", func(t *testing.T) {
		orc := &fakeOracle{}
		p := newTestPlanner(&fakeCatalog{}, orc, Options{})
		_, _, err := p.AssembleDay(ctx, DayRequest{UserID: "nocalorie", Mode: ModeGenerate})
		require.NoError(t, err)
		require.Len(t, orc.calls, 3)
		assert.Equal(t, 600.0, orc.calls[0].TargetCalories)
	})

	t.Run("Errors", func(t *testing.T) {
		p := newTestPlanner(catalog, nil, Options{})

		_, _, err := p.AssembleDay(ctx, DayRequest{UserID: "999"})
		assert.ErrorIs(t, err, profile.ErrUserNotFound)

		_, _, err = p.AssembleDay(ctx, DayRequest{UserID: "notarget"})
		assert.ErrorIs(t, err, profile.ErrTargetNotConfigured)

		_, _, err = p.AssembleDay(ctx, DayRequest{UserID: "u1", MealsPerDay: 9})
		assert.ErrorIs(t, err, ErrUnsupportedMealCount)

		broken := newTestPlanner(&fakeCatalog{err: errors.New("disk gone")}, nil, Options{})
		_, _, err = broken.AssembleDay(ctx, DayRequest{UserID: "u1"})
		assert.ErrorIs(t, err, ErrCatalogUnavailable)
	})
}

func TestAssembleWeek(t *testing.T) {
	ctx := context.Background()
	weekdays := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

	catalog := &fakeCatalog{recipes: []recipe.Recipe{
		rec("porridge", kcal(600), "oats"),
		rec("curry", kcal(700), "lentils"),
		rec("snack", kcal(200), "apple"),
	}}

	t.Run("AlwaysSevenDaysInCalendarOrder", func(t *testing.T) {
		for meals := 1; meals <= MaxMealsPerDay; meals++ {
			p := newTestPlanner(catalog, nil, Options{WeekConcurrency: 4})
			plan, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "u1", MealsPerDay: meals})
			require.NoError(t, err)
			require.Len(t, plan.Days, DaysPerWeek, "meals=%d", meals)

			assert.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), plan.WeekStart, "next Monday")
			for i, d := range plan.Days {
				assert.Equal(t, weekdays[i], d.Day)
				assert.Equal(t, plan.WeekStart.AddDate(0, 0, i), d.Date)
				assert.Len(t, d.Meals, meals)
			}
			assert.NotEmpty(t, plan.ID)
			assert.Equal(t, meals, plan.MealsPerDay)
		}
	})

	t.Run("DefaultMealsPerDay", func(t *testing.T) {
		p := newTestPlanner(catalog, nil, Options{})
		plan, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, 3, plan.MealsPerDay)
		assert.Len(t, plan.Recipes(), 21)
	})

	t.Run("WeekStartNormalizedToMonday", func(t *testing.T) {
		p := newTestPlanner(catalog, nil, Options{})
		sunday := time.Date(2023, 10, 29, 20, 0, 0, 0, time.UTC)
		plan, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "u1", WeekStart: sunday})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), plan.WeekStart)
	})

	t.Run("AccountNotLinkedFailsFast", func(t *testing.T) {
		cat := &fakeCatalog{recipes: catalog.recipes}
		p := newTestPlanner(cat, nil, Options{})
		_, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "unlinked"})
		assert.ErrorIs(t, err, ErrAccountNotLinked)
		assert.Zero(t, cat.calls)
	})

	t.Run("ProfileErrors", func(t *testing.T) {
		p := newTestPlanner(catalog, nil, Options{})
		_, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "999"})
		assert.ErrorIs(t, err, profile.ErrUserNotFound)
		_, _, err = p.AssembleWeek(ctx, WeekRequest{UserID: "notarget"})
		assert.ErrorIs(t, err, profile.ErrTargetNotConfigured)
	})

	t.Run("FailedDaysBecomeDiagnostics", func(t *testing.T) {
		obs := newCountingObserver()
		p := newTestPlanner(&fakeCatalog{err: errors.New("locked")}, nil, Options{WeekConcurrency: 3, Observer: obs})
		plan, _, err := p.AssembleWeek(ctx, WeekRequest{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, plan.Days, DaysPerWeek)
		for i, d := range plan.Days {
			assert.Equal(t, weekdays[i], d.Day)
			assert.Empty(t, d.Meals)
			require.Len(t, d.Diagnostics, 1)
			assert.Equal(t, CatalogUnavailable, d.Diagnostics[0].Code)
		}
		assert.Len(t, plan.Diagnostics(), DaysPerWeek)
		// every slot of every failed day is reported as skipped
		assert.Equal(t, DaysPerWeek*plan.MealsPerDay, obs.skipped[CatalogUnavailable])
		assert.Empty(t, obs.filled)
	})

	t.Run("OracleFailuresDoNotAbortWeek", func(t *testing.T) {
		orc := &fakeOracle{failFor: map[string]bool{"DINNER": true}}
		p := newTestPlanner(&fakeCatalog{}, orc, Options{WeekConcurrency: 7})
		plan, metas, err := p.AssembleWeek(ctx, WeekRequest{UserID: "u1", Mode: ModeGenerate})
		require.NoError(t, err)
		for _, d := range plan.Days {
			assert.Len(t, d.Meals, 2)
			assert.Len(t, d.Diagnostics, 1)
		}
		assert.Len(t, metas, 21)
		assert.Len(t, orc.calls, 21)
	})

	t.Run("CancellationAbortsWeek", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := newTestPlanner(catalog, &fakeOracle{}, Options{})
		plan, _, err := p.AssembleWeek(cctx, WeekRequest{UserID: "u1", Mode: ModeGenerate})
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWeekDates(t *testing.T) {
	wednesday := time.Date(2023, 10, 18, 9, 0, 0, 0, time.UTC)
	monday := time.Date(2023, 10, 16, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2023, 10, 22, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, monday, WeekStartOf(wednesday))
	assert.Equal(t, monday, WeekStartOf(sunday))
	assert.Equal(t, monday, WeekStartOf(monday))

	assert.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), GetNextMonday(wednesday))
	assert.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), GetNextMonday(monday))
	assert.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), GetNextMonday(sunday))
}
