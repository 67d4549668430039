package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nutriflow/internal/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DaysPerWeek is the length of every weekly plan.
const DaysPerWeek = 7

// WeekRequest asks for a full week of meals.
type WeekRequest struct {
	UserID      string
	MealsPerDay int
	Allergens   []string
	Preferred   []string
	Mode        Mode
	// WeekStart is moved back to its Monday. Zero means next Monday.
	WeekStart time.Time
}

// AssembleWeek builds seven independent days, Monday to Sunday.
// The profile is resolved once; a user without a linked account is
// rejected before any day is attempted. A day that fails on its own is
// kept as an empty day with a diagnostic. Cancelling ctx aborts the week.
func (p *Planner) AssembleWeek(ctx context.Context, req WeekRequest) (*WeeklyPlan, []shared.AgentMeta, error) {
	start := time.Now()

	user, err := p.profiles.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.LinkedAccountID == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrAccountNotLinked, user.ID)
	}
	target, err := p.profiles.GetNutritionTarget(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}

	base, err := p.prepare(ctx, user, target, req.MealsPerDay, req.Allergens, req.Preferred, req.Mode)
	if err != nil {
		return nil, nil, err
	}

	weekStart := req.WeekStart
	if weekStart.IsZero() {
		weekStart = GetNextMonday(p.opts.Now())
	} else {
		weekStart = WeekStartOf(weekStart)
	}

	days := make([]DailyPlan, DaysPerWeek)
	dayMetas := make([][]shared.AgentMeta, DaysPerWeek)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.WeekConcurrency)
	for i := 0; i < DaysPerWeek; i++ {
		i := i
		in := base
		in.date = weekStart.AddDate(0, 0, i)
		g.Go(func() error {
			day, metas, err := p.assemble(gctx, in)
			dayMetas[i] = metas
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				day = failedDay(in.date, err)
				for range in.slots {
					p.opts.Observer.SlotSkipped(day.Diagnostics[0].Code)
				}
				p.log.Warn("day assembly failed",
					zap.String("user_id", user.ID),
					zap.String("day", day.Day),
					zap.Error(err),
				)
			}
			days[i] = *day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("week assembly aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("week assembly aborted: %w", err)
	}

	var metas []shared.AgentMeta
	for _, m := range dayMetas {
		metas = append(metas, m...)
	}

	plan := &WeeklyPlan{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		WeekStart:   weekStart,
		MealsPerDay: len(base.slots),
		Days:        days,
		CreatedAt:   p.opts.Now().UTC(),
	}
	p.opts.Observer.PlanAssembled("week", time.Since(start))
	p.log.Info("weekly plan assembled",
		zap.String("plan_id", plan.ID),
		zap.String("user_id", user.ID),
		zap.Time("week_start", weekStart),
		zap.Int("diagnostics", len(plan.Diagnostics())),
	)
	return plan, metas, nil
}

func failedDay(date time.Time, err error) *DailyPlan {
	code := GenerationFailed
	if errors.Is(err, ErrCatalogUnavailable) {
		code = CatalogUnavailable
	}
	label := date.Weekday().String()
	return &DailyPlan{
		Day:         label,
		Date:        date,
		Meals:       []MealSlot{},
		Diagnostics: []Diagnostic{{Day: label, Code: code, Message: err.Error()}},
	}
}

// WeekStartOf returns midnight of the Monday of t's week.
func WeekStartOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return truncateDay(t).AddDate(0, 0, -offset)
}

// GetNextMonday returns midnight of the first Monday strictly after t.
func GetNextMonday(t time.Time) time.Time {
	daysUntil := (8 - int(t.Weekday())) % 7
	if daysUntil == 0 {
		daysUntil = 7
	}
	return truncateDay(t).AddDate(0, 0, daysUntil)
}
