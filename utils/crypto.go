package utils

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/cryptopay/types"
)

// IsChecksumAddress reports whether address is a hex address whose letter
// casing matches its EIP-55 checksum.
func IsChecksumAddress(address string) bool {
	mixed, err := common.NewMixedcaseAddressFromString(address)
	if err != nil {
		return false
	}
	return mixed.ValidChecksum()
}

// ToChecksumAddress returns the EIP-55 form of a hex address.
func ToChecksumAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", types.NewInvalidAddressError(address)
	}
	return common.HexToAddress(address).Hex(), nil
}
