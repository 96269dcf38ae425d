package utils

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitwit/cryptopay/types"
)

// baseNetworkFees are flat per-transfer fees used for local estimates when
// the API quote is not needed.
var baseNetworkFees = map[types.Currency]decimal.Decimal{
	types.CurrencyBTC:   decimal.RequireFromString("0.00002"),
	types.CurrencyETH:   decimal.RequireFromString("0.0005"),
	types.CurrencyUSDC:  decimal.RequireFromString("1.5"),
	types.CurrencyUSDT:  decimal.RequireFromString("1.5"),
	types.CurrencyMATIC: decimal.RequireFromString("0.01"),
	types.CurrencySOL:   decimal.RequireFromString("0.000005"),
}

var priorityMultipliers = map[types.PriorityLevel]decimal.Decimal{
	types.PriorityLow:    decimal.RequireFromString("0.8"),
	types.PriorityMedium: decimal.NewFromInt(1),
	types.PriorityHigh:   decimal.RequireFromString("1.5"),
	types.PriorityUrgent: decimal.NewFromInt(2),
}

// EstimateNetworkFee returns a local fee estimate for a transfer of currency
// at the given priority. An empty priority means medium.
func EstimateNetworkFee(currency types.Currency, priority types.PriorityLevel) (decimal.Decimal, error) {
	base, ok := baseNetworkFees[currency]
	if !ok {
		return decimal.Zero, types.NewValidationError(fmt.Sprintf("unsupported currency: %s", currency))
	}

	if priority == "" {
		priority = types.PriorityMedium
	}
	multiplier, ok := priorityMultipliers[priority]
	if !ok {
		return decimal.Zero, types.NewValidationError(fmt.Sprintf("unsupported priority: %s", priority))
	}

	return base.Mul(multiplier), nil
}

// EnsureSufficientFunds fails with an insufficient funds error when balance
// cannot cover amount plus fee.
func EnsureSufficientFunds(balance, amount, fee decimal.Decimal) error {
	required := amount.Add(fee)
	if balance.LessThan(required) {
		return types.NewInsufficientFundsError(fmt.Sprintf(
			"insufficient funds: balance %s, required %s", balance.String(), required.String()))
	}
	return nil
}
