package extractor

import (
	"fmt"
	"math"
	"sort"

	"github.com/yungbote/quickentry-backend/internal/domain/entries"
)

// conversionFactors are the unit conversions a stated number may go through
// on its way into a record field (mi/km, m/km, h/min, s/min, lb/kg, kg/g).
var conversionFactors = []float64{
	1,
	1.609344, 1 / 1.609344,
	0.001, 1000,
	60, 1.0 / 60,
	0.45359237, 1 / 0.45359237,
}

const traceTolerance = 0.01

// EnforceTraceability clears every numeric value in r that is not a number
// stated in text, directly or through one unit conversion. It returns the
// cleared field names in sorted order.
func EnforceTraceability(r entries.Record, text string) []string {
	nums := sourceNumbers(text)
	var cleared []string
	for name, v := range r.Numeric() {
		if v != nil && !traceable(*v, nums) {
			r.ClearNumeric(name)
			cleared = append(cleared, name)
		}
	}
	if m, ok := r.(*entries.MealRecord); ok {
		items := m.FoodItems()
		for i := range items {
			it := &items[i]
			check := func(field string, p **float64) {
				if *p != nil && !traceable(**p, nums) {
					*p = nil
					cleared = append(cleared, fmt.Sprintf("items[%d].%s", i, field))
				}
			}
			check("quantity", &it.Quantity)
			check("calories", &it.Calories)
			check("protein_g", &it.ProteinG)
			check("carbs_g", &it.CarbsG)
			check("fat_g", &it.FatG)
			if it.Quantity == nil {
				it.Unit = ""
			}
		}
		m.SetItems(items)
	}
	sort.Strings(cleared)
	return cleared
}

func traceable(v float64, nums []float64) bool {
	for _, n := range nums {
		for _, f := range conversionFactors {
			if math.Abs(v-n*f) <= traceTolerance {
				return true
			}
		}
	}
	return false
}
