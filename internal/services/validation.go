package services

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("fingerprint", isValidFingerprint); err != nil {
		panic(err)
	}
	return v
}

var suspiciousFingerprintParts = []string{
	"test", "fake", "dummy", "mock", "000000", "111111",
	"aaaaa", "bbbbb", "admin", "hacker",
}

// isValidFingerprint accepts client-generated device fingerprints: at least
// 32 chars, at least three dash-separated parts, none of the known junk.
func isValidFingerprint(fl validator.FieldLevel) bool {
	fp := fl.Field().String()
	if len(fp) < 32 {
		return false
	}
	if len(strings.Split(fp, "-")) < 3 {
		return false
	}
	lower := strings.ToLower(fp)
	for _, p := range suspiciousFingerprintParts {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

// ValidFingerprint reports whether fp is usable as a trial identity.
func ValidFingerprint(fp string) bool {
	return validate.Var(fp, "required,fingerprint") == nil
}
