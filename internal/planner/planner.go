package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutriflow/internal/oracle"
	"nutriflow/internal/profile"
	"nutriflow/internal/recipe"
	"nutriflow/internal/shared"

	"go.uber.org/zap"
)

var (
	ErrAccountNotLinked     = errors.New("user has no linked nutrition account")
	ErrUnsupportedMealCount = errors.New("unsupported meals per day")
	ErrCatalogUnavailable   = errors.New("recipe catalog unavailable")
)

type ProfileStore interface {
	GetUser(ctx context.Context, id string) (*profile.User, error)
	GetNutritionTarget(ctx context.Context, userID string) (*profile.NutritionTarget, error)
	ListPantry(ctx context.Context, userID string) ([]profile.PantryItem, error)
}

type CatalogStore interface {
	ListAll(ctx context.Context) ([]recipe.Recipe, error)
}

type RecipeOracle interface {
	Generate(ctx context.Context, c oracle.Constraints) (oracle.Result, error)
}

// Observer is notified about slot outcomes. Implementations must be safe
// for concurrent use.
type Observer interface {
	SlotFilled(source string)
	SlotSkipped(code DiagnosticCode)
	PlanAssembled(kind string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) SlotFilled(string)                   {}
func (nopObserver) SlotSkipped(DiagnosticCode)          {}
func (nopObserver) PlanAssembled(string, time.Duration) {}

// Mode selects where slot recipes come from.
type Mode int

const (
	// ModeCatalog picks recipes from the catalog.
	ModeCatalog Mode = iota
	// ModeGenerate asks the oracle for every slot.
	ModeGenerate
)

// Fallback decides what a catalog slot gets when no candidate is within
// tolerance.
type Fallback int

const (
	FallbackCatalogOrder Fallback = iota
	FallbackOracle
)

type Options struct {
	Fallback           Fallback
	DefaultMealsPerDay int
	WeekConcurrency    int
	Observer           Observer
	Now                func() time.Time
}

// Planner assembles daily and weekly meal plans.
type Planner struct {
	profiles ProfileStore
	catalog  CatalogStore
	oracle   RecipeOracle
	log      *zap.Logger
	opts     Options
}

// NewPlanner creates a new Planner. oracle may be nil when only the
// catalog is used.
func NewPlanner(profiles ProfileStore, catalog CatalogStore, oracle RecipeOracle, log *zap.Logger, opts Options) *Planner {
	if opts.DefaultMealsPerDay <= 0 {
		opts.DefaultMealsPerDay = 3
	}
	if opts.WeekConcurrency <= 0 {
		opts.WeekConcurrency = 1
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Planner{profiles: profiles, catalog: catalog, oracle: oracle, log: log, opts: opts}
}

// DayRequest asks for one day of meals.
type DayRequest struct {
	UserID      string
	MealsPerDay int
	Allergens   []string
	Preferred   []string
	Mode        Mode
	Date        time.Time
}

// dayInput is everything needed to assemble a day once the user is resolved.
type dayInput struct {
	user       *profile.User
	target     *profile.NutritionTarget
	pantry     []profile.PantryItem
	date       time.Time
	slots      []SlotTarget
	allergens  []string
	exclusions []string
	preferred  []string
	mode       Mode
}

// AssembleDay builds the meals of a single day.
func (p *Planner) AssembleDay(ctx context.Context, req DayRequest) (*DailyPlan, []shared.AgentMeta, error) {
	start := time.Now()

	user, target, err := p.resolveProfile(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	in, err := p.prepare(ctx, user, target, req.MealsPerDay, req.Allergens, req.Preferred, req.Mode)
	if err != nil {
		return nil, nil, err
	}

	in.date = req.Date
	if in.date.IsZero() {
		in.date = p.opts.Now()
	}
	in.date = truncateDay(in.date)

	day, metas, err := p.assemble(ctx, in)
	if err != nil {
		return nil, metas, err
	}
	p.opts.Observer.PlanAssembled("day", time.Since(start))
	return day, metas, nil
}

func (p *Planner) resolveProfile(ctx context.Context, userID string) (*profile.User, *profile.NutritionTarget, error) {
	user, err := p.profiles.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	target, err := p.profiles.GetNutritionTarget(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, target, nil
}

func (p *Planner) prepare(
	ctx context.Context,
	user *profile.User,
	target *profile.NutritionTarget,
	mealsPerDay int,
	allergens, preferred []string,
	mode Mode,
) (dayInput, error) {
	if mealsPerDay <= 0 {
		mealsPerDay = p.opts.DefaultMealsPerDay
	}
	slots, err := SlotTargets(target.DailyCalories(), mealsPerDay)
	if err != nil {
		return dayInput{}, err
	}

	in := dayInput{
		user:       user,
		target:     target,
		slots:      slots,
		allergens:  exclusionTerms(user.Allergies, allergens),
		exclusions: exclusionTerms(user.Allergies, user.Dislikes, allergens),
		preferred:  preferred,
		mode:       mode,
	}

	// The pantry only feeds oracle prompts.
	if mode == ModeGenerate || p.opts.Fallback == FallbackOracle {
		if in.pantry, err = p.profiles.ListPantry(ctx, user.ID); err != nil {
			return dayInput{}, fmt.Errorf("failed to load pantry for %s: %w", user.ID, err)
		}
	}
	return in, nil
}

// assemble fills the slots of one day. It only returns an error when the
// catalog cannot be read or ctx is done; slot failures become diagnostics.
func (p *Planner) assemble(ctx context.Context, in dayInput) (*DailyPlan, []shared.AgentMeta, error) {
	day := &DailyPlan{
		Day:   in.date.Weekday().String(),
		Date:  in.date,
		Meals: []MealSlot{},
	}

	var candidates []recipe.Recipe
	if in.mode == ModeCatalog {
		catalog, err := p.catalog.ListAll(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}
		candidates = eligible(catalog, in.exclusions)
	}

	var metas []shared.AgentMeta
	for _, slot := range in.slots {
		if err := ctx.Err(); err != nil {
			return nil, metas, err
		}

		var (
			filled MealSlot
			diag   *Diagnostic
			meta   *shared.AgentMeta
		)
		if in.mode == ModeGenerate {
			filled, meta, diag = p.generateSlot(ctx, in, slot)
		} else {
			filled, meta, diag = p.selectSlot(ctx, in, slot, candidates)
		}
		if meta != nil {
			metas = append(metas, *meta)
		}

		if diag != nil {
			if err := ctx.Err(); err != nil {
				return nil, metas, err
			}
			diag.Day = day.Day
			day.Diagnostics = append(day.Diagnostics, *diag)
			p.opts.Observer.SlotSkipped(diag.Code)
			p.log.Info("meal slot skipped",
				zap.String("user_id", in.user.ID),
				zap.String("day", day.Day),
				zap.String("meal_type", string(slot.MealType)),
				zap.String("code", string(diag.Code)),
				zap.String("reason", diag.Message),
			)
			continue
		}
		day.Meals = append(day.Meals, filled)
		p.opts.Observer.SlotFilled(filled.Source)
	}

	return day, metas, nil
}

func (p *Planner) selectSlot(ctx context.Context, in dayInput, slot SlotTarget, candidates []recipe.Recipe) (MealSlot, *shared.AgentMeta, *Diagnostic) {
	if len(candidates) == 0 {
		return MealSlot{}, nil, &Diagnostic{
			MealType: slot.MealType,
			Code:     NoEligibleCandidate,
			Message:  "no catalog recipe satisfies the exclusions",
		}
	}

	if best, ok := closestMatch(candidates, slot.Calories); ok {
		return MealSlot{MealType: slot.MealType, TargetCalories: slot.Calories, Recipe: best, Source: SourceCatalogMatch}, nil, nil
	}

	if p.opts.Fallback == FallbackOracle {
		return p.generateSlot(ctx, in, slot)
	}
	return MealSlot{MealType: slot.MealType, TargetCalories: slot.Calories, Recipe: candidates[0], Source: SourceCatalogFallback}, nil, nil
}

func (p *Planner) generateSlot(ctx context.Context, in dayInput, slot SlotTarget) (MealSlot, *shared.AgentMeta, *Diagnostic) {
	if p.oracle == nil {
		return MealSlot{}, nil, &Diagnostic{MealType: slot.MealType, Code: GenerationFailed, Message: "no recipe oracle configured"}
	}

	res, err := p.oracle.Generate(ctx, oracle.Constraints{
		MealType:       string(slot.MealType),
		TargetCalories: slot.Calories,
		Avoid:          in.allergens,
		Dislikes:       exclusionTerms(in.user.Dislikes),
		Preferred:      in.preferred,
		Budget:         in.user.Budget,
		CookingSkill:   string(in.user.CookingSkill),
		Equipment:      in.user.Equipment,
		Pantry:         in.pantry,
	})

	var meta *shared.AgentMeta
	if res.Meta.AgentName != "" {
		meta = &res.Meta
	}
	if err != nil {
		return MealSlot{}, meta, &Diagnostic{MealType: slot.MealType, Code: GenerationFailed, Message: err.Error()}
	}
	if res.Recipe.ContainsAny(in.exclusions) {
		return MealSlot{}, meta, &Diagnostic{
			MealType: slot.MealType,
			Code:     GenerationFailed,
			Message:  fmt.Sprintf("generated recipe %q contains an excluded ingredient", res.Recipe.Title),
		}
	}
	return MealSlot{MealType: slot.MealType, TargetCalories: slot.Calories, Recipe: res.Recipe, Source: SourceOracle}, meta, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
