package model

import (
	"errors"
	"math/big"
	"regexp"
)

// ErrInvalidID — идентификатор не является десятичным числом uint256.
var ErrInvalidID = errors.New("идентификатор должен быть неотрицательным целым числом")

// decimalID — только десятичные цифры, без знака и пробелов.
var decimalID = regexp.MustCompile(`^[0-9]{1,78}$`)

// maxUint256 — верхняя граница идентификаторов контракта.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// CanonicalID проверяет идентификатор предложения или договора и
// возвращает каноническую запись без ведущих нулей.
func CanonicalID(s string) (string, error) {
	if !decimalID.MatchString(s) {
		return "", ErrInvalidID
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Cmp(maxUint256) > 0 {
		return "", ErrInvalidID
	}
	return n.String(), nil
}
