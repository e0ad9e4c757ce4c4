package jsonrpc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ParseQuantity parses a 0x-prefixed hex quantity into a uint64
func ParseQuantity(hex string) (uint64, error) {
	digits, err := quantityDigits(hex)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(digits, 16, 64)
}

// ParseBigQuantity parses a 0x-prefixed hex quantity of any size
func ParseBigQuantity(hex string) (*big.Int, error) {
	digits, err := quantityDigits(hex)
	if err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", hex)
	}
	return n, nil
}

// EncodeQuantity formats n as a 0x-prefixed hex quantity
func EncodeQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func quantityDigits(hex string) (string, error) {
	if !strings.HasPrefix(hex, "0x") && !strings.HasPrefix(hex, "0X") {
		return "", fmt.Errorf("hex quantity %q missing 0x prefix", hex)
	}
	digits := hex[2:]
	if digits == "" {
		return "", fmt.Errorf("empty hex quantity")
	}
	return digits, nil
}
