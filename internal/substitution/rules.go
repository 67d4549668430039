package substitution

import (
	"context"
	"database/sql"
	"fmt"
)

// Rule maps an ingredient to a safer substitute. A nil Avoid marks a
// general rule that applies whatever the reason.
type Rule struct {
	ID         int64   `json:"id,omitempty"`
	Ingredient string  `json:"ingredient"`
	Avoid      *string `json:"avoid,omitempty"`
	Substitute string  `json:"substitute"`
	Note       string  `json:"note"`
}

// RuleRepository stores substitution rules. Lookups ignore case and
// return rules in insertion order.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Save inserts a rule and returns its id.
func (r *RuleRepository) Save(ctx context.Context, rule Rule) (int64, error) {
	var avoid sql.NullString
	if rule.Avoid != nil {
		avoid = sql.NullString{String: *rule.Avoid, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO substitution_rules (ingredient, avoid, substitute, note) VALUES (?, ?, ?, ?)`,
		rule.Ingredient, avoid, rule.Substitute, rule.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save substitution rule for %q: %w", rule.Ingredient, err)
	}
	return res.LastInsertId()
}

// FindRules returns the rules for ingredient that name avoid explicitly.
func (r *RuleRepository) FindRules(ctx context.Context, ingredient, avoid string) ([]Rule, error) {
	return r.query(ctx, `
		SELECT id, ingredient, avoid, substitute, note FROM substitution_rules
		WHERE lower(ingredient) = lower(?) AND avoid IS NOT NULL AND lower(avoid) = lower(?)
		ORDER BY id`, ingredient, avoid)
}

// FindRulesByIngredient returns every rule for ingredient, whatever it avoids.
func (r *RuleRepository) FindRulesByIngredient(ctx context.Context, ingredient string) ([]Rule, error) {
	return r.query(ctx, `
		SELECT id, ingredient, avoid, substitute, note FROM substitution_rules
		WHERE lower(ingredient) = lower(?)
		ORDER BY id`, ingredient)
}

func (r *RuleRepository) query(ctx context.Context, q string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query substitution rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule  Rule
			avoid sql.NullString
		)
		if err := rows.Scan(&rule.ID, &rule.Ingredient, &avoid, &rule.Substitute, &rule.Note); err != nil {
			return nil, fmt.Errorf("failed to scan substitution rule: %w", err)
		}
		if avoid.Valid {
			rule.Avoid = &avoid.String
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
