package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedFrequency(t *testing.T) {
	cases := map[string]string{
		"MONTHLY": FrequencyMonthly,
		"monthly": FrequencyMonthly,
		"YEARLY":  FrequencyYearly,
		" yearly": FrequencyYearly,
		"":        FrequencyYearly,
		"WEEKLY":  FrequencyYearly,
	}
	for input, want := range cases {
		req := &ChangePlanRequest{BillingFrequency: input}
		assert.Equal(t, want, req.NormalizedFrequency(), "input %q", input)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{StatusCanceled, StatusReplaced, StatusSuspended}
	for _, status := range terminal {
		s := &Subscription{Status: status}
		assert.True(t, s.IsTerminal(), status)
	}
	for _, status := range []string{StatusActive, StatusPendingPayment, StatusPastDue} {
		s := &Subscription{Status: status}
		assert.False(t, s.IsTerminal(), status)
	}
}

func TestParseChangeablePlanCode(t *testing.T) {
	for _, v := range []string{"BASIC", "basic", " Premium "} {
		_, ok := ParseChangeablePlanCode(v)
		assert.True(t, ok, v)
	}
	// FREE is reachable only through trial creation.
	for _, v := range []string{"FREE", "", "ULTIMATE"} {
		_, ok := ParseChangeablePlanCode(v)
		assert.False(t, ok, v)
	}
}

func TestExternalPriceFor(t *testing.T) {
	p := &Plan{Code: PlanBasic, ExternalPriceMonthly: "price_m", ExternalPriceYearly: "price_y"}

	id, ok := p.ExternalPriceFor(FrequencyMonthly)
	assert.True(t, ok)
	assert.Equal(t, "price_m", id)

	id, ok = p.ExternalPriceFor(FrequencyYearly)
	assert.True(t, ok)
	assert.Equal(t, "price_y", id)

	_, ok = p.ExternalPriceFor(FrequencyFreeTrial)
	assert.False(t, ok)

	unpriced := &Plan{Code: PlanFree}
	_, ok = unpriced.ExternalPriceFor(FrequencyMonthly)
	assert.False(t, ok)
}
