package pricing

import "strings"

// Default prices in VND. Overridable through config.
const (
	DefaultPricePerCourse int64 = 39000
	DefaultPriceCombo5    int64 = 99000
	DefaultPriceCombo10   int64 = 199000
)

// unitPriceGranularity is the rounding step for displayed combo unit prices
const unitPriceGranularity int64 = 1000

// CourseEntry is a candidate course submitted for purchase
type CourseEntry struct {
	URL   string
	Title string
	Price int64
}

// Calculator computes order totals from course counts. It holds fixed
// prices and has no side effects; identical inputs always produce
// identical outputs.
type Calculator struct {
	PerCourse int64
	Combo5    int64
	Combo10   int64
}

// NewCalculator creates a calculator with the default price table
func NewCalculator() *Calculator {
	return &Calculator{
		PerCourse: DefaultPricePerCourse,
		Combo5:    DefaultPriceCombo5,
		Combo10:   DefaultPriceCombo10,
	}
}

// FilterValid keeps entries with a non-empty URL
func FilterValid(entries []CourseEntry) []CourseEntry {
	valid := make([]CourseEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.URL) != "" {
			valid = append(valid, e)
		}
	}
	return valid
}

// TotalFor returns the total price for a number of valid courses.
// Exactly 5 or 10 courses hit the fixed combo prices; everything else
// is per-course pricing.
func (c *Calculator) TotalFor(count int) int64 {
	if count <= 0 {
		return 0
	}
	switch count {
	case 5:
		return c.Combo5
	case 10:
		return c.Combo10
	}
	return int64(count) * c.PerCourse
}

// IsCombo reports whether a count qualifies for combo pricing
func (c *Calculator) IsCombo(count int) bool {
	return count == 5 || count == 10
}

// ComboUnitPrice returns the displayed per-course price for a combo
// total, rounded half-up to the nearest 1000 minor units.
func ComboUnitPrice(total int64, count int) int64 {
	if total <= 0 || count <= 0 {
		return 0
	}
	exact := total / int64(count)
	rem := exact % unitPriceGranularity
	base := exact - rem
	if rem*2 >= unitPriceGranularity {
		return base + unitPriceGranularity
	}
	return base
}

// DistributePrices splits a combo total across count courses so the
// per-course prices sum exactly to the total. The first count-1 courses
// get the floored unit price and the last course absorbs the remainder.
func DistributePrices(total int64, count int) []int64 {
	if total <= 0 || count <= 0 {
		return nil
	}
	prices := make([]int64, count)
	base := total / int64(count)
	for i := range prices {
		prices[i] = base
	}
	prices[count-1] = total - base*int64(count-1)
	return prices
}

// OrderPrice filters valid courses and computes the order total
func (c *Calculator) OrderPrice(entries []CourseEntry) (valid []CourseEntry, total int64) {
	valid = FilterValid(entries)
	return valid, c.TotalFor(len(valid))
}
