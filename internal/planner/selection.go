package planner

import (
	"math"
	"strings"

	"nutriflow/internal/recipe"
)

// CalorieTolerance is the accepted relative distance from a slot target.
const CalorieTolerance = 0.20

// exclusionTerms merges the term lists, dropping blanks and duplicates.
func exclusionTerms(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, term := range list {
			key := strings.ToLower(strings.TrimSpace(term))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

// eligible keeps, in catalog order, the recipes containing no excluded term.
func eligible(catalog []recipe.Recipe, exclusions []string) []recipe.Recipe {
	out := make([]recipe.Recipe, 0, len(catalog))
	for i := range catalog {
		if !catalog[i].ContainsAny(exclusions) {
			out = append(out, catalog[i])
		}
	}
	return out
}

// closestMatch returns the candidate nearest to target within tolerance.
// Ties keep the earlier candidate. Recipes without calories are ignored.
func closestMatch(candidates []recipe.Recipe, target float64) (recipe.Recipe, bool) {
	tolerance := target * CalorieTolerance
	bestDiff := math.Inf(1)
	best := -1
	for i, c := range candidates {
		if c.Calories == nil {
			continue
		}
		diff := math.Abs(*c.Calories - target)
		if diff <= tolerance && diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best < 0 {
		return recipe.Recipe{}, false
	}
	return candidates[best], true
}
