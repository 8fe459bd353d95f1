package cost

import (
	"maps"

	"github.com/sells-group/bureau-cli/internal/config"
	"github.com/sells-group/bureau-cli/internal/model"
)

// Rates holds per-engine OCR pricing in USD, keyed by extraction method.
type Rates struct {
	PerPage map[string]float64 `yaml:"per_page" mapstructure:"per_page"`
	PerCall map[string]float64 `yaml:"per_call" mapstructure:"per_call"`
}

// Calculator computes OCR spend for extraction attempts.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// OCR computes the cost of one engine call that returned pages pages.
// Page-priced engines bill at least one page per call.
func (c *Calculator) OCR(method string, pages int) float64 {
	total := c.rates.PerCall[method]
	if rate, ok := c.rates.PerPage[method]; ok && rate > 0 {
		total += rate * float64(max(pages, 1))
	}
	return total
}

// Free reports whether method carries no configured cost.
func (c *Calculator) Free(method string) bool {
	return c.rates.PerCall[method] == 0 && c.rates.PerPage[method] == 0
}

// DefaultRates returns the default pricing rates. Local engines are free.
func DefaultRates() Rates {
	return Rates{
		PerPage: map[string]float64{
			model.MethodMistral: 0.001,
			model.MethodDocsumo: 0.01,
		},
		PerCall: map[string]float64{},
	}
}

// FromConfig overlays the configured rates on the defaults.
func FromConfig(cfg config.PricingConfig) Rates {
	r := DefaultRates()
	maps.Copy(r.PerPage, cfg.PerPage)
	maps.Copy(r.PerCall, cfg.PerCall)
	return r
}
