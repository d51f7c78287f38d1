package cryptonote

import (
	"fmt"
	"strconv"
	"strings"
)

// base58 alphabet shared by the CryptoNote address encoding.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// AddressParams captures the coin-template address rules injected into the
// core: accepted prefixes, length bounds, and the payment id width.
type AddressParams struct {
	Prefixes        []string
	MinLen          int
	MaxLen          int
	PaymentIDHexLen int
}

// ParseLogin splits a stratum login of the form
// <address>[.<worker>][#<payment_id>] into its parts. The worker defaults
// to "0" when absent.
func ParseLogin(login string) (address, worker, paymentID string) {
	address = login
	worker = "0"

	if i := strings.Index(address, "."); i >= 0 {
		worker = address[i+1:]
		address = address[:i]
		if worker == "" {
			worker = "0"
		}
	}

	if i := strings.Index(address, "#"); i >= 0 {
		paymentID = address[i+1:]
		address = address[:i]
	}

	return address, worker, paymentID
}

// ValidateAddress applies the coin-template rules to a wallet address.
func (p AddressParams) ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("empty address")
	}

	if len(address) < p.MinLen || len(address) > p.MaxLen {
		return fmt.Errorf("address length %d outside [%d, %d]", len(address), p.MinLen, p.MaxLen)
	}

	if len(p.Prefixes) > 0 {
		ok := false
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(address, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("address prefix not accepted")
		}
	}

	for _, r := range address {
		if !strings.ContainsRune(base58Alphabet, r) {
			return fmt.Errorf("address contains non-base58 character %q", r)
		}
	}

	return nil
}

// ValidatePaymentID checks a payment id against the coin's exact hex width.
func (p AddressParams) ValidatePaymentID(paymentID string) error {
	if len(paymentID) != p.PaymentIDHexLen {
		return fmt.Errorf("payment id must be %d hex chars, got %d", p.PaymentIDHexLen, len(paymentID))
	}

	for _, r := range paymentID {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return fmt.Errorf("payment id contains non-hex character %q", r)
		}
	}

	return nil
}

// ParsePassword parses the stratum password field into key=value control
// variables separated by semicolons. Bare tokens are kept with an empty value.
func ParsePassword(pass string) map[string]string {
	vars := make(map[string]string)
	for _, part := range strings.Split(pass, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.Index(part, "="); i >= 0 {
			vars[part[:i]] = part[i+1:]
		} else {
			vars[part] = ""
		}
	}
	return vars
}

// StaticDifficulty extracts the d=<value> control variable, if present.
func StaticDifficulty(vars map[string]string) (uint64, bool) {
	raw, ok := vars["d"]
	if !ok || raw == "" {
		return 0, false
	}

	if diff, err := strconv.ParseUint(raw, 10, 64); err == nil && diff > 0 {
		return diff, true
	}

	// Some miners send fractional difficulty; floor it.
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 1 {
		return uint64(f), true
	}

	return 0, false
}
