package planner

import (
	"fmt"
)

// MaxMealsPerDay is the largest meal count with a distribution.
const MaxMealsPerDay = 6

type slotShare struct {
	MealType MealType
	Percent  int
}

// distribution splits the daily calorie target across meals, in percent.
// Each row sums to 100.
var distribution = map[int][]slotShare{
	1: {{MealDinner, 100}},
	2: {{MealLunch, 50}, {MealDinner, 50}},
	3: {{MealBreakfast, 30}, {MealLunch, 35}, {MealDinner, 35}},
	4: {{MealBreakfast, 25}, {MealLunch, 30}, {MealDinner, 30}, {MealSnack, 15}},
	5: {{MealBreakfast, 25}, {MealSnack, 10}, {MealLunch, 30}, {MealSnack, 10}, {MealDinner, 25}},
	6: {{MealBreakfast, 20}, {MealSnack, 10}, {MealLunch, 25}, {MealSnack, 10}, {MealDinner, 25}, {MealSnack, 10}},
}

// SlotTarget is the calorie goal of one meal slot.
type SlotTarget struct {
	MealType MealType
	Calories float64
}

// SlotTargets distributes dailyCalories over mealsPerDay slots.
func SlotTargets(dailyCalories float64, mealsPerDay int) ([]SlotTarget, error) {
	shares, ok := distribution[mealsPerDay]
	if !ok {
		return nil, fmt.Errorf("%w: %d (supported 1-%d)", ErrUnsupportedMealCount, mealsPerDay, MaxMealsPerDay)
	}
	targets := make([]SlotTarget, len(shares))
	for i, s := range shares {
		targets[i] = SlotTarget{MealType: s.MealType, Calories: dailyCalories * float64(s.Percent) / 100}
	}
	return targets, nil
}
