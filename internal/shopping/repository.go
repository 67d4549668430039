package shopping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository handles persistence of shopping lists.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

// Save creates or replaces the shopping list of a meal plan.
func (r *Repository) Save(ctx context.Context, list *ShoppingList) (int64, error) {
	itemsJSON, err := json.Marshal(list.Items)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal shopping list items: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO shopping_lists (user_id, meal_plan_id, items, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(meal_plan_id) DO UPDATE SET items = excluded.items, created_at = excluded.created_at
		RETURNING id`,
		list.UserID, list.MealPlanID, string(itemsJSON), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert shopping list: %w", err)
	}
	return id, nil
}

// GetByMealPlanID retrieves a shopping list by meal plan ID. It returns
// nil, nil when the plan has no list.
func (r *Repository) GetByMealPlanID(ctx context.Context, mealPlanID string) (*ShoppingList, error) {
	var (
		list  ShoppingList
		items string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, meal_plan_id, items, created_at FROM shopping_lists WHERE meal_plan_id = ?`,
		mealPlanID,
	).Scan(&list.ID, &list.UserID, &list.MealPlanID, &items, &list.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shopping list by meal plan ID: %w", err)
	}

	if err := json.Unmarshal([]byte(items), &list.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shopping list items: %w", err)
	}
	return &list, nil
}

// DeleteByMealPlanID deletes a shopping list by meal plan ID.
func (r *Repository) DeleteByMealPlanID(ctx context.Context, mealPlanID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID)
	return err
}
