package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress приводит адрес аккаунта к единому виду: 0x + 40 hex-символов
// в нижнем регистре. Строки, не являющиеся адресом, только приводятся к нижнему регистру.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}
