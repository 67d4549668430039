package recipe

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Number decodes a JSON value leniently: numbers pass through, numeric
// strings ("350", "350 kcal", "1,200 kcal") use their leading number, and
// anything else, null included, becomes 0. Commas are only accepted as
// thousands separators; "1,5" is malformed. It never fails.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = 0
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*n = Number(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(leadingNumber(str), 64); err == nil {
		*n = Number(f)
	}
	return nil
}

// Int rounds to the nearest integer.
func (n Number) Int() int {
	return int(math.Round(float64(n)))
}

var groupedNumber = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d*)?$`)

func leadingNumber(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' || (i == 0 && (r == '-' || r == '+')) {
			end = i + 1
			continue
		}
		break
	}
	num := strings.TrimRight(s[:end], ",")
	if !strings.Contains(num, ",") {
		return num
	}
	if !groupedNumber.MatchString(num) {
		return ""
	}
	return strings.ReplaceAll(num, ",", "")
}

// TextList accepts either a JSON array of strings or a single string.
type TextList []string

func (l *TextList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*l = []string{single}
		}
		return nil
	}
	*l = nil
	return nil
}

// PayloadIngredient is an ingredient as produced by a language model.
type PayloadIngredient struct {
	Ingredient   string   `json:"ingredient"`
	Quantity     Number   `json:"quantity"`
	Unit         string   `json:"unit"`
	AllergenTags TextList `json:"allergenTags"`
}

// Payload is the structured recipe a language model is asked to return.
type Payload struct {
	Title         string              `json:"title"`
	PrepTime      Number              `json:"prepTime"`
	CookTime      Number              `json:"cookTime"`
	Cuisines      TextList            `json:"cuisines"`
	Tags          TextList            `json:"tags"`
	Ingredients   []PayloadIngredient `json:"ingredients"`
	Instructions  TextList            `json:"instructions"`
	Calories      *Number             `json:"calories"`
	Carbohydrates Number              `json:"carbohydrates"`
	Fat           Number              `json:"fat"`
	Fiber         Number              `json:"fiber"`
	Protein       Number              `json:"protein"`
}

// DefaultTitle names recipes a model returned without a title.
const DefaultTitle = "Unnamed Meal"

// DecodePayload parses model output. Only malformed JSON is an error;
// numeric fields are coerced.
func DecodePayload(content string) (Payload, error) {
	var p Payload
	err := json.Unmarshal([]byte(stripFences(content)), &p)
	return p, err
}

// ToRecipe converts the payload into a catalog recipe with a fresh id.
func (p Payload) ToRecipe(source string) Recipe {
	r := Recipe{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(p.Title),
		Protein:         float64(p.Protein),
		Carbohydrates:   float64(p.Carbohydrates),
		Fat:             float64(p.Fat),
		Fiber:           float64(p.Fiber),
		PrepTimeMinutes: p.PrepTime.Int(),
		CookTimeMinutes: p.CookTime.Int(),
		Instructions:    []string(p.Instructions),
		Tags:            append([]string(p.Cuisines), p.Tags...),
		Source:          source,
	}
	if r.Title == "" {
		r.Title = DefaultTitle
	}
	if p.Calories != nil && *p.Calories > 0 {
		kcal := float64(*p.Calories)
		r.Calories = &kcal
	}
	for _, ing := range p.Ingredients {
		name := strings.TrimSpace(ing.Ingredient)
		if name == "" {
			continue
		}
		r.Ingredients = append(r.Ingredients, Ingredient{
			RecipeID:     r.ID,
			Name:         name,
			Quantity:     float64(ing.Quantity),
			Unit:         ing.Unit,
			AllergenTags: []string(ing.AllergenTags),
		})
	}
	r.IngredientsText = ingredientsText(r.Ingredients)
	return r
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
