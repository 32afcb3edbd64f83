package domain

import "strings"

// Plan codes. FREE backs trial rows and is never a checkout target.
const (
	PlanBasic   = "BASIC"
	PlanMedium  = "MEDIUM"
	PlanPremium = "PREMIUM"
	PlanFree    = "FREE"
)

// Plan is static reference data mapping a plan code to the payment
// processor's price identifiers. Immutable at runtime; the catalog is
// seeded by migrations and mutated only out of band.
type Plan struct {
	ID                string `json:"id"`
	Code              string `json:"code"`
	DisplayName       string `json:"displayName"`
	PriceMonthlyCents int64  `json:"priceMonthlyCents"`

	ExternalPriceMonthly string `json:"-"`
	ExternalPriceYearly  string `json:"-"`
}

// ExternalPriceFor resolves the processor price id for a billing frequency.
func (p *Plan) ExternalPriceFor(frequency string) (string, bool) {
	switch frequency {
	case FrequencyMonthly:
		return p.ExternalPriceMonthly, p.ExternalPriceMonthly != ""
	case FrequencyYearly:
		return p.ExternalPriceYearly, p.ExternalPriceYearly != ""
	}
	return "", false
}

// ParseChangeablePlanCode returns a plan code valid as a change target.
// FREE is excluded: accounts move onto FREE via trial creation, not checkout.
func ParseChangeablePlanCode(v string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case PlanBasic:
		return PlanBasic, true
	case PlanMedium:
		return PlanMedium, true
	case PlanPremium:
		return PlanPremium, true
	}
	return "", false
}
