package resale

import (
	"strings"

	"github.com/asaskevich/govalidator"

	"gmailfarm-bot/internal/ledger"
)

const (
	gmailSuffix    = "@gmail.com"
	minLocalPart   = 4
	minPasswordLen = 6
)

var skipRecovery = map[string]bool{"skip": true, "/skip": true, "-": true}

// NormalizeAddress trims and lowercases the address, appends @gmail.com to a
// bare local part and checks the result.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if addr == "" {
		return "", ledger.Invalid("address", "send the Gmail address")
	}
	if !strings.Contains(addr, "@") {
		addr += gmailSuffix
	}
	if !strings.HasSuffix(addr, gmailSuffix) {
		return "", ledger.Invalid("address", "only @gmail.com addresses are accepted")
	}
	if len(strings.TrimSuffix(addr, gmailSuffix)) < minLocalPart {
		return "", ledger.Invalid("address", "the address is too short")
	}
	if !govalidator.IsEmail(addr) {
		return "", ledger.Invalid("address", "this is not a valid email address")
	}
	return addr, nil
}

func ValidatePassword(raw string) (string, error) {
	pw := strings.TrimSpace(raw)
	if len(pw) < minPasswordLen {
		return "", ledger.Invalid("password", "the password must be at least 6 characters")
	}
	return pw, nil
}

// NormalizeRecovery returns "" for the skip sentinels.
func NormalizeRecovery(raw string) (string, error) {
	rec := strings.TrimSpace(raw)
	if rec == "" || skipRecovery[strings.ToLower(rec)] {
		return "", nil
	}
	if !strings.Contains(rec, "@") {
		return "", ledger.Invalid("recovery", "send a recovery email or /skip")
	}
	return strings.ToLower(rec), nil
}
