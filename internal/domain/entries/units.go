package entries

import (
	"fmt"
	"strings"
)

type UnitKind string

const (
	UnitMass     UnitKind = "mass"
	UnitVolume   UnitKind = "volume"
	UnitDistance UnitKind = "distance"
	UnitDuration UnitKind = "duration"
	UnitCount    UnitKind = "count"
)

type unitDef struct {
	canonical string
	kind      UnitKind
	// toBase converts to g, ml, km, min; counts are not converted.
	toBase float64
}

var unitTable = map[string]unitDef{
	"mg":     {"mg", UnitMass, 0.001},
	"g":      {"g", UnitMass, 1},
	"gram":   {"g", UnitMass, 1},
	"grams":  {"g", UnitMass, 1},
	"kg":     {"kg", UnitMass, 1000},
	"kgs":    {"kg", UnitMass, 1000},
	"kilo":   {"kg", UnitMass, 1000},
	"kilos":  {"kg", UnitMass, 1000},
	"oz":     {"oz", UnitMass, 28.349523125},
	"ounce":  {"oz", UnitMass, 28.349523125},
	"ounces": {"oz", UnitMass, 28.349523125},
	"lb":     {"lb", UnitMass, 453.59237},
	"lbs":    {"lb", UnitMass, 453.59237},
	"pound":  {"lb", UnitMass, 453.59237},
	"pounds": {"lb", UnitMass, 453.59237},

	"ml":          {"ml", UnitVolume, 1},
	"l":           {"l", UnitVolume, 1000},
	"liter":       {"l", UnitVolume, 1000},
	"liters":      {"l", UnitVolume, 1000},
	"litre":       {"l", UnitVolume, 1000},
	"tsp":         {"tsp", UnitVolume, 4.92892159375},
	"teaspoon":    {"tsp", UnitVolume, 4.92892159375},
	"teaspoons":   {"tsp", UnitVolume, 4.92892159375},
	"tbsp":        {"tbsp", UnitVolume, 14.78676478125},
	"tablespoon":  {"tbsp", UnitVolume, 14.78676478125},
	"tablespoons": {"tbsp", UnitVolume, 14.78676478125},
	"cup":         {"cup", UnitVolume, 236.5882365},
	"cups":        {"cup", UnitVolume, 236.5882365},

	"km":         {"km", UnitDistance, 1},
	"kms":        {"km", UnitDistance, 1},
	"k":          {"km", UnitDistance, 1},
	"kilometer":  {"km", UnitDistance, 1},
	"kilometers": {"km", UnitDistance, 1},
	"m":          {"m", UnitDistance, 0.001},
	"meter":      {"m", UnitDistance, 0.001},
	"meters":     {"m", UnitDistance, 0.001},
	"mi":         {"mi", UnitDistance, 1.609344},
	"mile":       {"mi", UnitDistance, 1.609344},
	"miles":      {"mi", UnitDistance, 1.609344},

	"min":     {"min", UnitDuration, 1},
	"mins":    {"min", UnitDuration, 1},
	"minute":  {"min", UnitDuration, 1},
	"minutes": {"min", UnitDuration, 1},
	"h":       {"h", UnitDuration, 60},
	"hr":      {"h", UnitDuration, 60},
	"hrs":     {"h", UnitDuration, 60},
	"hour":    {"h", UnitDuration, 60},
	"hours":   {"h", UnitDuration, 60},
	"sec":     {"s", UnitDuration, 1.0 / 60},
	"secs":    {"s", UnitDuration, 1.0 / 60},
	"seconds": {"s", UnitDuration, 1.0 / 60},

	"slice":    {"slice", UnitCount, 1},
	"slices":   {"slice", UnitCount, 1},
	"piece":    {"piece", UnitCount, 1},
	"pieces":   {"piece", UnitCount, 1},
	"serving":  {"serving", UnitCount, 1},
	"servings": {"serving", UnitCount, 1},
	"scoop":    {"scoop", UnitCount, 1},
	"scoops":   {"scoop", UnitCount, 1},
}

// UnitWhole is the unit for bare counts ("3 eggs").
const UnitWhole = "whole"

// ResolveUnit maps a spelled unit to its canonical form and kind.
func ResolveUnit(raw string) (string, UnitKind, bool) {
	key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(raw, ".")))
	if key == UnitWhole {
		return UnitWhole, UnitCount, true
	}
	def, ok := unitTable[key]
	if !ok {
		return "", "", false
	}
	return def.canonical, def.kind, true
}

// ConvertUnit converts value between units of the same kind.
func ConvertUnit(value float64, from, to string) (float64, error) {
	f, ok := unitTable[strings.ToLower(from)]
	if !ok {
		return 0, fmt.Errorf("unsupported unit %q", from)
	}
	t, ok := unitTable[strings.ToLower(to)]
	if !ok {
		return 0, fmt.Errorf("unsupported unit %q", to)
	}
	if f.kind != t.kind || f.kind == UnitCount {
		return 0, fmt.Errorf("cannot convert %s to %s", from, to)
	}
	return value * f.toBase / t.toBase, nil
}
