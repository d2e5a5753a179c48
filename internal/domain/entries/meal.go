package entries

import (
	"fmt"
	"math"
	"strings"

	"gorm.io/datatypes"
)

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// MacroTolerance is the rounding slack allowed between aggregate and item sums.
const MacroTolerance = 0.5

type FoodItem struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity"`
	Unit     string   `json:"unit,omitempty"`
	Calories *float64 `json:"calories,omitempty"`
	ProteinG *float64 `json:"protein_g,omitempty"`
	CarbsG   *float64 `json:"carbs_g,omitempty"`
	FatG     *float64 `json:"fat_g,omitempty"`
}

type MealRecord struct {
	RecordHeader
	MealType MealType                       `gorm:"type:text;not null;default:''" json:"meal_type,omitempty"`
	Items    datatypes.JSONType[[]FoodItem] `json:"items"`
	Calories *float64                       `json:"calories"`
	ProteinG *float64                       `json:"protein_g"`
	CarbsG   *float64                       `json:"carbs_g"`
	FatG     *float64                       `json:"fat_g"`
}

func (MealRecord) TableName() string { return "meal_record" }

func (m *MealRecord) Subtype() Subtype          { return SubtypeMeal }
func (m *MealRecord) Header() *RecordHeader     { return &m.RecordHeader }
func (m *MealRecord) record()                   {}
func (m *MealRecord) FoodItems() []FoodItem     { return m.Items.Data() }
func (m *MealRecord) SetItems(items []FoodItem) { m.Items = datatypes.NewJSONType(items) }

func (m *MealRecord) Numeric() map[string]*float64 {
	return map[string]*float64{
		"calories":  m.Calories,
		"protein_g": m.ProteinG,
		"carbs_g":   m.CarbsG,
		"fat_g":     m.FatG,
	}
}

func (m *MealRecord) SetNumeric(field string, v float64) bool {
	switch field {
	case "calories":
		m.Calories = &v
	case "protein_g":
		m.ProteinG = &v
	case "carbs_g":
		m.CarbsG = &v
	case "fat_g":
		m.FatG = &v
	default:
		return false
	}
	return true
}

func (m *MealRecord) ClearNumeric(field string) bool {
	switch field {
	case "calories":
		m.Calories = nil
	case "protein_g":
		m.ProteinG = nil
	case "carbs_g":
		m.CarbsG = nil
	case "fat_g":
		m.FatG = nil
	default:
		return false
	}
	return true
}

func (m *MealRecord) Summary() string {
	parts := make([]string, 0, len(m.FoodItems()))
	for _, it := range m.FoodItems() {
		if it.Quantity != nil {
			parts = append(parts, fmt.Sprintf("%s (%s %s)", it.Name, formatNum(*it.Quantity), it.Unit))
		} else {
			parts = append(parts, it.Name)
		}
	}
	s := strings.Join(parts, ", ")
	if m.MealType != "" {
		s = string(m.MealType) + ": " + s
	}
	if m.Calories != nil {
		s += fmt.Sprintf(", %s kcal", formatNum(*m.Calories))
	}
	return s
}

// Validate checks unit presence and that aggregate macros equal the item sums
// whenever every item carries the macro.
func (m *MealRecord) Validate() error {
	items := m.FoodItems()
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return NewError(KindValidation, fmt.Sprintf("item %d has no name", i), nil)
		}
		if it.Quantity != nil && strings.TrimSpace(it.Unit) == "" {
			return NewError(KindValidation, fmt.Sprintf("item %q quantity without unit", it.Name), nil)
		}
	}
	checks := []struct {
		name string
		agg  *float64
		get  func(FoodItem) *float64
	}{
		{"calories", m.Calories, func(f FoodItem) *float64 { return f.Calories }},
		{"protein_g", m.ProteinG, func(f FoodItem) *float64 { return f.ProteinG }},
		{"carbs_g", m.CarbsG, func(f FoodItem) *float64 { return f.CarbsG }},
		{"fat_g", m.FatG, func(f FoodItem) *float64 { return f.FatG }},
	}
	for _, c := range checks {
		sum, ok := sumItems(items, c.get)
		if !ok || c.agg == nil {
			continue
		}
		if math.Abs(sum-*c.agg) > MacroTolerance {
			return NewError(KindValidation, fmt.Sprintf("%s aggregate %v != item sum %v", c.name, *c.agg, sum), nil)
		}
	}
	return nil
}

// RollUpMacros sets each aggregate that is still nil from the item sums, when
// every item carries the macro.
func (m *MealRecord) RollUpMacros() {
	items := m.FoodItems()
	if sum, ok := sumItems(items, func(f FoodItem) *float64 { return f.Calories }); ok && m.Calories == nil {
		m.Calories = &sum
	}
	if sum, ok := sumItems(items, func(f FoodItem) *float64 { return f.ProteinG }); ok && m.ProteinG == nil {
		m.ProteinG = &sum
	}
	if sum, ok := sumItems(items, func(f FoodItem) *float64 { return f.CarbsG }); ok && m.CarbsG == nil {
		m.CarbsG = &sum
	}
	if sum, ok := sumItems(items, func(f FoodItem) *float64 { return f.FatG }); ok && m.FatG == nil {
		m.FatG = &sum
	}
}

func sumItems(items []FoodItem, get func(FoodItem) *float64) (float64, bool) {
	if len(items) == 0 {
		return 0, false
	}
	var sum float64
	for _, it := range items {
		v := get(it)
		if v == nil {
			return 0, false
		}
		sum += *v
	}
	return sum, true
}
