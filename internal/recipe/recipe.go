package recipe

import (
	"errors"
	"strings"
)

var ErrRecipeNotFound = errors.New("recipe not found")

// Where a catalog entry came from.
const (
	SourceCatalog = "catalog"
	SourceOracle  = "oracle"
	SourceImport  = "import"
)

// Ingredient is one line of a recipe.
type Ingredient struct {
	RecipeID     string   `json:"recipe_id,omitempty"`
	Name         string   `json:"name"`
	Quantity     float64  `json:"quantity"`
	Unit         string   `json:"unit"`
	AllergenTags []string `json:"allergen_tags"`
}

// Recipe is a catalog entry. Calories is nil when unknown; such recipes
// never win a calorie match.
type Recipe struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Calories        *float64     `json:"calories,omitempty"`
	Protein         float64      `json:"protein"`
	Carbohydrates   float64      `json:"carbohydrates"`
	Fat             float64      `json:"fat"`
	Fiber           float64      `json:"fiber"`
	PrepTimeMinutes int          `json:"prep_time_minutes"`
	CookTimeMinutes int          `json:"cook_time_minutes"`
	IngredientsText string       `json:"ingredients_text,omitempty"`
	Instructions    []string     `json:"instructions"`
	Tags            []string     `json:"tags"`
	Source          string       `json:"source,omitempty"`
	Ingredients     []Ingredient `json:"ingredients"`
}

// ContainsAny reports whether any term occurs, case-insensitively, as a
// substring of an ingredient name or of the free-text ingredient list.
// Blank terms never match.
func (r *Recipe) ContainsAny(terms []string) bool {
	text := strings.ToLower(r.IngredientsText)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(text, term) {
			return true
		}
		for _, ing := range r.Ingredients {
			if strings.Contains(strings.ToLower(ing.Name), term) {
				return true
			}
		}
	}
	return false
}

// HasIngredient reports whether an ingredient is named exactly name,
// ignoring case.
func (r *Recipe) HasIngredient(name string) bool {
	name = strings.TrimSpace(name)
	for _, ing := range r.Ingredients {
		if strings.EqualFold(strings.TrimSpace(ing.Name), name) {
			return true
		}
	}
	return false
}

// TotalTimeMinutes is prep plus cook time.
func (r *Recipe) TotalTimeMinutes() int {
	return r.PrepTimeMinutes + r.CookTimeMinutes
}

func ingredientsText(ings []Ingredient) string {
	names := make([]string, 0, len(ings))
	for _, ing := range ings {
		names = append(names, ing.Name)
	}
	return strings.Join(names, ", ")
}
