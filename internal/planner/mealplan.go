package planner

import (
	"time"

	"nutriflow/internal/recipe"
)

// MealType is the role a meal plays in a day.
type MealType string

const (
	MealBreakfast MealType = "BREAKFAST"
	MealLunch     MealType = "LUNCH"
	MealDinner    MealType = "DINNER"
	MealSnack     MealType = "SNACK"
)

// How a slot got its recipe.
const (
	SourceCatalogMatch    = "catalog_match"
	SourceCatalogFallback = "catalog_fallback"
	SourceOracle          = "oracle"
)

// DiagnosticCode classifies a slot that could not be filled.
type DiagnosticCode string

const (
	NoEligibleCandidate DiagnosticCode = "NO_ELIGIBLE_CANDIDATE"
	GenerationFailed    DiagnosticCode = "GENERATION_FAILED"
	CatalogUnavailable  DiagnosticCode = "CATALOG_UNAVAILABLE"
)

// Diagnostic reports a skipped slot (or a whole day when MealType is empty).
type Diagnostic struct {
	Day      string         `json:"day"`
	MealType MealType       `json:"meal_type,omitempty"`
	Code     DiagnosticCode `json:"code"`
	Message  string         `json:"message"`
}

// MealSlot is one meal of a day with the recipe assigned to it.
type MealSlot struct {
	MealType       MealType      `json:"meal_type"`
	TargetCalories float64       `json:"target_calories"`
	Recipe         recipe.Recipe `json:"recipe"`
	Source         string        `json:"source"`
}

// DailyPlan holds the filled slots of one day in slot order. Slots that
// could not be filled are absent from Meals and listed in Diagnostics.
type DailyPlan struct {
	Day         string       `json:"day"`
	Date        time.Time    `json:"date"`
	Meals       []MealSlot   `json:"meals"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// TotalCalories sums the known calories of the day's meals.
func (d DailyPlan) TotalCalories() float64 {
	var total float64
	for _, m := range d.Meals {
		if m.Recipe.Calories != nil {
			total += *m.Recipe.Calories
		}
	}
	return total
}

// WeeklyPlan is seven consecutive days starting on a Monday. It is not
// modified after AssembleWeek returns it.
type WeeklyPlan struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	WeekStart   time.Time   `json:"week_start"`
	MealsPerDay int         `json:"meals_per_day"`
	Days        []DailyPlan `json:"days"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Diagnostics flattens the diagnostics of every day.
func (w *WeeklyPlan) Diagnostics() []Diagnostic {
	var out []Diagnostic
	for _, d := range w.Days {
		out = append(out, d.Diagnostics...)
	}
	return out
}

// Recipes returns every assigned recipe in plan order.
func (w *WeeklyPlan) Recipes() []recipe.Recipe {
	var out []recipe.Recipe
	for _, d := range w.Days {
		for _, m := range d.Meals {
			out = append(out, m.Recipe)
		}
	}
	return out
}
