package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitwit/cryptopay/types"
)

var (
	hexPattern    = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	base58Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	bech32Pattern = regexp.MustCompile(`^(bc1|tb1)[02-9ac-hj-np-z]{11,71}$`)
)

// ValidateAmount parses amount and requires it to be strictly positive.
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if strings.TrimSpace(amount) == "" {
		return decimal.Zero, types.NewValidationError("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, types.NewValidationError(fmt.Sprintf("invalid amount format: %s", amount))
	}

	if err := ValidatePositive(dec); err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

// ValidatePositive rejects zero and negative amounts.
func ValidatePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.NewValidationError("amount must be greater than zero")
	}
	return nil
}

// ValidateCurrency checks that currency is one the payment API settles.
func ValidateCurrency(currency types.Currency) error {
	if currency == "" {
		return types.NewValidationError("currency is required")
	}
	if _, ok := currency.Family(); !ok {
		return types.NewValidationError(fmt.Sprintf("unsupported currency: %s", currency))
	}
	return nil
}

// ValidateAddressForNetwork validates address against the format of the
// chain that settles currency.
func ValidateAddressForNetwork(address string, currency types.Currency) error {
	if address == "" {
		return types.NewInvalidAddressError(address)
	}

	family, ok := currency.Family()
	if !ok {
		return types.NewValidationError(fmt.Sprintf("unsupported currency: %s", currency))
	}

	var valid bool
	switch family {
	case types.ChainEVM:
		valid = isEVMAddress(address)
	case types.ChainBitcoin:
		valid = isBitcoinAddress(address)
	case types.ChainSolana:
		valid = len(address) >= 32 && len(address) <= 44 && base58Pattern.MatchString(address)
	}

	if !valid {
		return types.NewInvalidAddressError(address)
	}
	return nil
}

// isEVMAddress accepts all-lowercase and all-uppercase hex addresses. Mixed
// case addresses must carry a valid EIP-55 checksum.
func isEVMAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 42 || !hexPattern.MatchString(address[2:]) {
		return false
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return IsChecksumAddress(address)
}

func isBitcoinAddress(address string) bool {
	if bech32Pattern.MatchString(address) {
		return true
	}
	if len(address) < 26 || len(address) > 35 {
		return false
	}
	switch address[0] {
	case '1', '3', 'm', 'n', '2':
	default:
		return false
	}
	return base58Pattern.MatchString(address)
}

// ValidateCreatePaymentRequest performs every check that can fail without a
// network call.
func ValidateCreatePaymentRequest(req *types.CreatePaymentRequest) error {
	if req == nil {
		return types.NewValidationError("payment request is required")
	}
	if err := validate.Struct(req); err != nil {
		return types.NewValidationError(fmt.Sprintf("validation failed: %v", err))
	}
	if err := ValidatePositive(req.Amount); err != nil {
		return err
	}
	if err := ValidateCurrency(req.Currency); err != nil {
		return err
	}
	return ValidateAddressForNetwork(req.Recipient, req.Currency)
}
