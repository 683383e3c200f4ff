package payment

import (
	"strings"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
)

const (
	countryCode  = "254"
	trunkPrefix  = "0"
	msisdnLength = 12
)

// NormalizePhone turns a locally written Kenyan mobile number into the
// international form the gateway expects: "+254712345678" and "0712345678"
// both become "254712345678".
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", domain.ErrInvalidPaymentInput
	}

	phone = strings.TrimPrefix(phone, "+")
	if strings.HasPrefix(phone, trunkPrefix) {
		phone = countryCode + strings.TrimPrefix(phone, trunkPrefix)
	}

	if !strings.HasPrefix(phone, countryCode) || len(phone) != msisdnLength || !allDigits(phone) {
		return "", domain.ErrInvalidPhoneFormat
	}
	return phone, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
