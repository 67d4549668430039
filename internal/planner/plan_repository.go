package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrPlanNotFound = errors.New("meal plan not found")

const weekDateLayout = "2006-01-02"

// PlanRepository is a database-backed repository for weekly plans.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{db: d}
}

// Save stores the whole plan as one row.
func (r *PlanRepository) Save(ctx context.Context, plan *WeeklyPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal meal plan %s: %w", plan.ID, err)
	}
	createdAt := plan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO meal_plans (id, user_id, week_start, plan_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		plan.ID, plan.UserID, plan.WeekStart.Format(weekDateLayout), string(data), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meal plan %s: %w", plan.ID, err)
	}
	return nil
}

// Get returns a stored plan or ErrPlanNotFound.
func (r *PlanRepository) Get(ctx context.Context, id string) (*WeeklyPlan, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT plan_data FROM meal_plans WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meal plan %s: %w", id, err)
	}
	return decodePlan(data)
}

// ListRecentByUserID retrieves the N most recent meal plans for a given user.
func (r *PlanRepository) ListRecentByUserID(ctx context.Context, userID string, limit int) ([]WeeklyPlan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT plan_data FROM meal_plans WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent meal plans for user %s: %w", userID, err)
	}
	defer rows.Close()

	var plans []WeeklyPlan
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		plan, err := decodePlan(data)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// ExistsForWeek reports whether the user already has a plan for the week.
func (r *PlanRepository) ExistsForWeek(ctx context.Context, userID string, weekStart time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meal_plans WHERE user_id = ? AND week_start = ?`,
		userID, WeekStartOf(weekStart).Format(weekDateLayout),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check meal plan for week: %w", err)
	}
	return n > 0, nil
}

func decodePlan(data string) (*WeeklyPlan, error) {
	var plan WeeklyPlan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meal plan: %w", err)
	}
	return &plan, nil
}
