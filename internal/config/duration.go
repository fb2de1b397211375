package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go durations plus d and w units, e.g. "30d" or "1w".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := parseDurationExtended(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// None of Go's own units contain d or w, so these can be rewritten to hours
// before handing the string to time.ParseDuration.
var dayWeekUnit = regexp.MustCompile(`(\d+(?:\.\d+)?)([dw])`)

// parseDurationExtended parses "7d", "1w2d3h", "1.5d" or any Go duration.
func parseDurationExtended(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration is required")
	}
	var convErr error
	expanded := dayWeekUnit.ReplaceAllStringFunc(raw, func(tok string) string {
		m := dayWeekUnit.FindStringSubmatch(tok)
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			convErr = err
			return tok
		}
		hours := n * 24
		if m[2] == "w" {
			hours *= 7
		}
		return strconv.FormatFloat(hours, 'f', -1, 64) + "h"
	})
	if convErr != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, convErr)
	}
	d, err := time.ParseDuration(expanded)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}
