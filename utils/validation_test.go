package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/cryptopay/types"
)

const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount  string
		wantErr bool
	}{
		{"1", false},
		{"0.0001", false},
		{" 12.5 ", false},
		{"0", true},
		{"-1", true},
		{"", true},
		{"abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			_, err := ValidateAmount(tt.amount)
			if tt.wantErr {
				assert.True(t, types.IsKind(err, types.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAddressForNetwork(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		currency types.Currency
		wantErr  bool
	}{
		{"evm checksummed", checksummed, types.CurrencyETH, false},
		{"evm lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", types.CurrencyUSDC, false},
		{"evm bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", types.CurrencyETH, true},
		{"evm short", "0x5aAeb6053F3E94C9b9A09f3366943", types.CurrencyETH, true},
		{"evm no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", types.CurrencyETH, true},
		{"bitcoin legacy", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", types.CurrencyBTC, false},
		{"bitcoin bech32", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", types.CurrencyBTC, false},
		{"bitcoin given evm", checksummed, types.CurrencyBTC, true},
		{"solana", "So11111111111111111111111111111111111111112", types.CurrencySOL, false},
		{"solana bad alphabet", "0OIl111111111111111111111111111111111111112", types.CurrencySOL, true},
		{"empty", "", types.CurrencyETH, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddressForNetwork(tt.address, tt.currency)
			if tt.wantErr {
				assert.True(t, types.IsKind(err, types.KindInvalidAddress), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	err := ValidateAddressForNetwork(checksummed, "DOGE")
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestValidateCurrency(t *testing.T) {
	assert.NoError(t, ValidateCurrency(types.CurrencyETH))
	assert.Error(t, ValidateCurrency(""))
	assert.Error(t, ValidateCurrency("DOGE"))
}

func TestValidateCreatePaymentRequest(t *testing.T) {
	valid := func() *types.CreatePaymentRequest {
		return &types.CreatePaymentRequest{
			Amount:    decimal.NewFromInt(10),
			Currency:  types.CurrencyUSDC,
			Recipient: checksummed,
		}
	}

	require.NoError(t, ValidateCreatePaymentRequest(valid()))

	req := valid()
	req.Amount = decimal.Zero
	assert.True(t, types.IsKind(ValidateCreatePaymentRequest(req), types.KindValidation))

	req = valid()
	req.Recipient = "0xnot-an-address"
	assert.True(t, types.IsKind(ValidateCreatePaymentRequest(req), types.KindInvalidAddress))

	req = valid()
	req.CallbackURL = "not a url"
	assert.True(t, types.IsKind(ValidateCreatePaymentRequest(req), types.KindValidation))

	req = valid()
	req.Currency = ""
	assert.True(t, types.IsKind(ValidateCreatePaymentRequest(req), types.KindValidation))

	assert.Error(t, ValidateCreatePaymentRequest(nil))
}
