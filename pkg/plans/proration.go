// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package plans

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/canonical/license-service/internal/types"
)

// DaysRemaining counts the days left until end, a started day counting as a full one.
func DaysRemaining(now, end time.Time) int {
	if !now.Before(end) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

// Prorate returns (perSeatDelta / cycleDays) * daysRemaining * seats, rounded to cents.
func Prorate(perSeatDelta decimal.Decimal, cycle types.BillingCycle, daysRemaining, seats int) decimal.Decimal {
	if daysRemaining <= 0 || seats == 0 {
		return decimal.Zero
	}

	daily := perSeatDelta.Div(decimal.NewFromInt(int64(cycle.Days())))

	return daily.
		Mul(decimal.NewFromInt(int64(daysRemaining))).
		Mul(decimal.NewFromInt(int64(seats))).
		Round(2)
}
