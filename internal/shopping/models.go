package shopping

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"nutriflow/internal/recipe"
)

// Item is one aggregated line of a shopping list.
type Item struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

func (i Item) String() string {
	if i.Quantity == 0 {
		return i.Name
	}
	if i.Unit == "" {
		return fmt.Sprintf("%s (%g)", i.Name, i.Quantity)
	}
	return fmt.Sprintf("%s (%g %s)", i.Name, i.Quantity, i.Unit)
}

// ShoppingList represents a shopping list for a meal plan.
type ShoppingList struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	MealPlanID string    `json:"meal_plan_id"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
}

// Build aggregates the ingredients of recipes. Lines with the same name
// (ignoring case) and unit are summed; items the user already has in the
// pantry are left out. Items are sorted by name.
func Build(recipes []recipe.Recipe, pantry []string) []Item {
	have := make(map[string]struct{}, len(pantry))
	for _, p := range pantry {
		have[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}

	type key struct{ name, unit string }
	index := make(map[key]int)
	var items []Item
	for _, r := range recipes {
		for _, ing := range r.Ingredients {
			name := strings.TrimSpace(ing.Name)
			lower := strings.ToLower(name)
			if lower == "" {
				continue
			}
			if _, ok := have[lower]; ok {
				continue
			}
			k := key{lower, strings.ToLower(strings.TrimSpace(ing.Unit))}
			if i, ok := index[k]; ok {
				items[i].Quantity += ing.Quantity
				continue
			}
			index[k] = len(items)
			items = append(items, Item{Name: name, Quantity: ing.Quantity, Unit: strings.TrimSpace(ing.Unit)})
		}
	}

	sort.SliceStable(items, func(a, b int) bool {
		return strings.ToLower(items[a].Name) < strings.ToLower(items[b].Name)
	})
	return items
}
