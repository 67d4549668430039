package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Repository is a database-backed catalog of recipes.
// Catalog order is insertion order.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new recipe Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recipeColumns = `id, title, calories, protein, carbohydrates, fat, fiber,
	prep_time_minutes, cook_time_minutes, ingredients_text, instructions, tags, source`

// Save inserts or replaces a recipe together with its ingredients.
func (r *Repository) Save(ctx context.Context, rec Recipe) error {
	if rec.ID == "" {
		return fmt.Errorf("recipe id is required")
	}
	if rec.IngredientsText == "" {
		rec.IngredientsText = ingredientsText(rec.Ingredients)
	}
	if rec.Source == "" {
		rec.Source = SourceCatalog
	}
	instructions, err := marshalStrings(rec.Instructions)
	if err != nil {
		return err
	}
	tags, err := marshalStrings(rec.Tags)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var calories sql.NullFloat64
	if rec.Calories != nil {
		calories = sql.NullFloat64{Float64: *rec.Calories, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (`+recipeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			calories = excluded.calories,
			protein = excluded.protein,
			carbohydrates = excluded.carbohydrates,
			fat = excluded.fat,
			fiber = excluded.fiber,
			prep_time_minutes = excluded.prep_time_minutes,
			cook_time_minutes = excluded.cook_time_minutes,
			ingredients_text = excluded.ingredients_text,
			instructions = excluded.instructions,
			tags = excluded.tags,
			source = excluded.source`,
		rec.ID, rec.Title, calories, rec.Protein, rec.Carbohydrates, rec.Fat, rec.Fiber,
		rec.PrepTimeMinutes, rec.CookTimeMinutes, rec.IngredientsText, instructions, tags, rec.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_ingredients WHERE recipe_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to clear ingredients of %s: %w", rec.ID, err)
	}
	for _, ing := range rec.Ingredients {
		allergens, err := marshalStrings(ing.AllergenTags)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recipe_ingredients (recipe_id, name, quantity, unit, allergen_tags) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, ing.Name, ing.Quantity, ing.Unit, allergens,
		); err != nil {
			return fmt.Errorf("failed to save ingredient %q of %s: %w", ing.Name, rec.ID, err)
		}
	}

	return tx.Commit()
}

// Get returns a recipe with its ingredients or ErrRecipeNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Recipe, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id)
	rec, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if rec.Ingredients, err = r.ListIngredients(ctx, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAll returns every recipe in catalog order with ingredients populated.
func (r *Repository) ListAll(ctx context.Context) ([]Recipe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recipeColumns+` FROM recipes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []Recipe
	index := make(map[string]int)
	for rows.Next() {
		rec, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		index[rec.ID] = len(recipes)
		recipes = append(recipes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ingRows, err := r.db.QueryContext(ctx,
		`SELECT recipe_id, name, quantity, unit, allergen_tags FROM recipe_ingredients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	defer ingRows.Close()
	for ingRows.Next() {
		ing, err := scanIngredient(ingRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[ing.RecipeID]; ok {
			recipes[i].Ingredients = append(recipes[i].Ingredients, ing)
		}
	}
	return recipes, ingRows.Err()
}

// ListIngredients returns the ingredients of a recipe in insertion order.
// An unknown recipe yields an empty list.
func (r *Repository) ListIngredients(ctx context.Context, recipeID string) ([]Ingredient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recipe_id, name, quantity, unit, allergen_tags FROM recipe_ingredients WHERE recipe_id = ? ORDER BY id`,
		recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients of %s: %w", recipeID, err)
	}
	defer rows.Close()

	var ings []Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		ings = append(ings, ing)
	}
	return ings, rows.Err()
}

// FindByIngredient returns the first catalog recipe having an ingredient
// named exactly name (ignoring case), or ErrRecipeNotFound.
func (r *Repository) FindByIngredient(ctx context.Context, name string) (*Recipe, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT r.id FROM recipes r
		JOIN recipe_ingredients i ON i.recipe_id = r.id
		WHERE lower(trim(i.name)) = lower(trim(?))
		ORDER BY r.rowid LIMIT 1`, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no recipe with ingredient %q", ErrRecipeNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search recipes by ingredient: %w", err)
	}
	return r.Get(ctx, id)
}

// Count returns the catalog size.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipe(s scanner) (Recipe, error) {
	var (
		rec                Recipe
		calories           sql.NullFloat64
		instructions, tags string
	)
	err := s.Scan(&rec.ID, &rec.Title, &calories, &rec.Protein, &rec.Carbohydrates, &rec.Fat, &rec.Fiber,
		&rec.PrepTimeMinutes, &rec.CookTimeMinutes, &rec.IngredientsText, &instructions, &tags, &rec.Source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan recipe: %w", err)
	}
	if calories.Valid {
		v := calories.Float64
		rec.Calories = &v
	}
	if err := json.Unmarshal([]byte(instructions), &rec.Instructions); err != nil {
		return rec, fmt.Errorf("failed to unmarshal instructions of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return rec, fmt.Errorf("failed to unmarshal tags of %s: %w", rec.ID, err)
	}
	return rec, nil
}

func scanIngredient(s scanner) (Ingredient, error) {
	var (
		ing       Ingredient
		allergens string
	)
	if err := s.Scan(&ing.RecipeID, &ing.Name, &ing.Quantity, &ing.Unit, &allergens); err != nil {
		return ing, fmt.Errorf("failed to scan ingredient: %w", err)
	}
	if err := json.Unmarshal([]byte(allergens), &ing.AllergenTags); err != nil {
		return ing, fmt.Errorf("failed to unmarshal allergen tags: %w", err)
	}
	return ing, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}
