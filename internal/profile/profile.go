package profile

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTargetNotConfigured = errors.New("nutrition target not configured")
)

// DefaultDailyCalories is used when a target has no usable calorie value.
const DefaultDailyCalories = 2000.0

// CookingSkill is the self-reported cooking level of a user.
type CookingSkill string

const (
	SkillBeginner     CookingSkill = "BEGINNER"
	SkillIntermediate CookingSkill = "INTERMEDIATE"
	SkillAdvanced     CookingSkill = "ADVANCED"
	SkillExpert       CookingSkill = "EXPERT"
)

// User is the dietary profile of a person we plan for.
type User struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Allergies       []string     `json:"allergies"`
	Dislikes        []string     `json:"dislikes"`
	Budget          *float64     `json:"budget,omitempty"`
	CookingSkill    CookingSkill `json:"cooking_skill,omitempty"`
	Equipment       []string     `json:"equipment"`
	LinkedAccountID string       `json:"linked_account_id,omitempty"`
}

// Micronutrients are daily goals; zero means no goal.
type Micronutrients struct {
	Iron      float64 `json:"iron,omitempty"`
	Calcium   float64 `json:"calcium,omitempty"`
	VitaminA  float64 `json:"vitamin_a,omitempty"`
	VitaminC  float64 `json:"vitamin_c,omitempty"`
	VitaminD  float64 `json:"vitamin_d,omitempty"`
	Sodium    float64 `json:"sodium,omitempty"`
	Potassium float64 `json:"potassium,omitempty"`
}

// NutritionTarget holds the daily goals of a user.
type NutritionTarget struct {
	UserID         string         `json:"user_id"`
	Calories       *float64       `json:"calories,omitempty"`
	Protein        *float64       `json:"protein,omitempty"`
	Carbohydrates  *float64       `json:"carbohydrates,omitempty"`
	Fat            *float64       `json:"fat,omitempty"`
	Fiber          *float64       `json:"fiber,omitempty"`
	Micronutrients Micronutrients `json:"micronutrients"`
}

// DailyCalories returns the calorie goal, falling back to
// DefaultDailyCalories when it is missing or not positive.
func (t *NutritionTarget) DailyCalories() float64 {
	if t == nil || t.Calories == nil || *t.Calories <= 0 {
		return DefaultDailyCalories
	}
	return *t.Calories
}

// PantryItem is something the user already has at home.
type PantryItem struct {
	ID       int64   `json:"id,omitempty"`
	UserID   string  `json:"user_id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}
