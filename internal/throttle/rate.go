package throttle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
)

var periods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// Rate is a parsed "<requests>/<period>" spec
type Rate struct {
	Requests int
	Unit     string
	Period   time.Duration
}

// ParseRate parses a rate spec such as "100/hour"
func ParseRate(s string) (Rate, error) {
	num, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("rate %q must have the form <number>/<period>", s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("rate %q has an invalid request count", s)
	}
	period, ok := periods[unit]
	if !ok {
		return Rate{}, fmt.Errorf("rate %q has an unknown period %q", s, unit)
	}
	return Rate{Requests: n, Unit: unit, Period: period}, nil
}

// MustParseRate is ParseRate for compile-time constants
func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) String() string {
	return strconv.Itoa(r.Requests) + "/" + r.Unit
}

var invalidRateMessages = map[string]string{
	"en": "Enter a rate of the form <number>/<period>, where period is second, minute, hour or day.",
	"es": "Introduzca una tasa con el formato <número>/<periodo>, donde periodo es second, minute, hour o day.",
}

// ValidateRate rejects malformed specs with a message in the requested language.
// Unsupported languages fall back to English.
func ValidateRate(s, lang string) error {
	if _, err := ParseRate(s); err == nil {
		return nil
	}
	msg, ok := invalidRateMessages[lang]
	if !ok {
		msg = invalidRateMessages["en"]
	}
	return apperr.Validation("%s", msg).WithDetails(map[string]any{"rate": []string{msg}})
}

// PreferredLanguage picks the first supported primary tag of an Accept-Language header
func PreferredLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		primary, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if _, ok := invalidRateMessages[primary]; ok {
			return primary
		}
	}
	return "en"
}
