package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Repository is a database-backed store for users, targets and pantry items.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new profile Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveUser inserts or replaces a user.
func (r *Repository) SaveUser(ctx context.Context, u User) error {
	allergies, err := marshalList(u.Allergies)
	if err != nil {
		return err
	}
	dislikes, err := marshalList(u.Dislikes)
	if err != nil {
		return err
	}
	equipment, err := marshalList(u.Equipment)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, allergies, dislikes, budget, cooking_skill, equipment, linked_account_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			allergies = excluded.allergies,
			dislikes = excluded.dislikes,
			budget = excluded.budget,
			cooking_skill = excluded.cooking_skill,
			equipment = excluded.equipment,
			linked_account_id = excluded.linked_account_id`,
		u.ID, u.Name, allergies, dislikes, nullFloat(u.Budget), string(u.CookingSkill), equipment, u.LinkedAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the user or ErrUserNotFound.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		u                              User
		allergies, dislikes, equipment string
		skill                          string
		budget                         sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, allergies, dislikes, budget, cooking_skill, equipment, linked_account_id
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &allergies, &dislikes, &budget, &skill, &equipment, &u.LinkedAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	if u.Allergies, err = unmarshalList(allergies); err != nil {
		return nil, err
	}
	if u.Dislikes, err = unmarshalList(dislikes); err != nil {
		return nil, err
	}
	if u.Equipment, err = unmarshalList(equipment); err != nil {
		return nil, err
	}
	if budget.Valid {
		u.Budget = &budget.Float64
	}
	u.CookingSkill = CookingSkill(skill)
	return &u, nil
}

// LinkAccount records the external account the user belongs to.
func (r *Repository) LinkAccount(ctx context.Context, userID, accountID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET linked_account_id = ? WHERE id = ?`, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to link account for user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// SaveNutritionTarget inserts or replaces the target of a user.
func (r *Repository) SaveNutritionTarget(ctx context.Context, t NutritionTarget) error {
	micros, err := json.Marshal(t.Micronutrients)
	if err != nil {
		return fmt.Errorf("failed to marshal micronutrients: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO nutrition_targets (user_id, calories, protein, carbohydrates, fat, fiber, micronutrients)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			calories = excluded.calories,
			protein = excluded.protein,
			carbohydrates = excluded.carbohydrates,
			fat = excluded.fat,
			fiber = excluded.fiber,
			micronutrients = excluded.micronutrients`,
		t.UserID, nullFloat(t.Calories), nullFloat(t.Protein), nullFloat(t.Carbohydrates),
		nullFloat(t.Fat), nullFloat(t.Fiber), string(micros),
	)
	if err != nil {
		return fmt.Errorf("failed to save nutrition target for %s: %w", t.UserID, err)
	}
	return nil
}

// GetNutritionTarget returns the target or ErrTargetNotConfigured.
func (r *Repository) GetNutritionTarget(ctx context.Context, userID string) (*NutritionTarget, error) {
	var (
		t                                 NutritionTarget
		calories, protein, carbs, fat, fb sql.NullFloat64
		micros                            string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, calories, protein, carbohydrates, fat, fiber, micronutrients
		FROM nutrition_targets WHERE user_id = ?`, userID,
	).Scan(&t.UserID, &calories, &protein, &carbs, &fat, &fb, &micros)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotConfigured, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nutrition target for %s: %w", userID, err)
	}

	t.Calories = floatPtr(calories)
	t.Protein = floatPtr(protein)
	t.Carbohydrates = floatPtr(carbs)
	t.Fat = floatPtr(fat)
	t.Fiber = floatPtr(fb)
	if micros != "" {
		if err := json.Unmarshal([]byte(micros), &t.Micronutrients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal micronutrients: %w", err)
		}
	}
	return &t, nil
}

// AddPantryItem stores an item and returns its id.
func (r *Repository) AddPantryItem(ctx context.Context, item PantryItem) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO pantry_items (user_id, name, quantity, unit) VALUES (?, ?, ?, ?)`,
		item.UserID, item.Name, item.Quantity, item.Unit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to add pantry item: %w", err)
	}
	return res.LastInsertId()
}

// ListPantry returns the pantry of a user in insertion order.
func (r *Repository) ListPantry(ctx context.Context, userID string) ([]PantryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, quantity, unit FROM pantry_items WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pantry for %s: %w", userID, err)
	}
	defer rows.Close()

	var items []PantryItem
	for rows.Next() {
		var it PantryItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.Name, &it.Quantity, &it.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan pantry item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}

func unmarshalList(s string) ([]string, error) {
	var v []string
	if s == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal list: %w", err)
	}
	return v, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
