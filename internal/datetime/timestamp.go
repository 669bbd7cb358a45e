package datetime

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampResult is a timestamp normalized to both a millisecond epoch and
// a UTC RFC3339 string.
type TimestampResult struct {
	TimestampMs  int64  `json:"timestampMs"`
	TimestampUTC string `json:"timestampUtc"`
}

var numericPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// NormalizeTimestamp accepts a timestamp in whatever shape it arrives —
// time.Time, a unix epoch as int/float (seconds or milliseconds,
// disambiguated by magnitude), or a string that's either numeric or an
// ISO-8601/RFC3339 date — and returns it normalized, or nil if raw is nil,
// empty, or doesn't parse as any of the above. Used as a fallback when a
// strict time.Parse of a stored timestamp fails, e.g. a rollout file
// written by an older or foreign client.
func NormalizeTimestamp(raw any) *TimestampResult {
	if raw == nil {
		return nil
	}

	var timestampMs int64
	var ok bool

	switch v := raw.(type) {
	case time.Time:
		timestampMs = v.UnixMilli()
		ok = true

	case *time.Time:
		if v != nil {
			timestampMs = v.UnixMilli()
			ok = true
		}

	case int64:
		timestampMs = normalizeNumericToMs(float64(v))
		ok = true

	case int:
		timestampMs = normalizeNumericToMs(float64(v))
		ok = true

	case int32:
		timestampMs = normalizeNumericToMs(float64(v))
		ok = true

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		timestampMs = normalizeNumericToMs(v)
		ok = true

	case float32:
		f64 := float64(v)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return nil
		}
		timestampMs = normalizeNumericToMs(f64)
		ok = true

	case string:
		if result := parseStringTimestamp(v); result != nil {
			return result
		}

	case *string:
		if v != nil {
			if result := parseStringTimestamp(*v); result != nil {
				return result
			}
		}
	}

	if !ok {
		return nil
	}

	return &TimestampResult{
		TimestampMs:  timestampMs,
		TimestampUTC: time.UnixMilli(timestampMs).UTC().Format(time.RFC3339Nano),
	}
}

// normalizeNumericToMs converts v to milliseconds, treating anything below
// the 1e12 threshold as seconds (a millisecond epoch doesn't cross that
// boundary until the year 33658).
func normalizeNumericToMs(v float64) int64 {
	const msThreshold = 1_000_000_000_000
	if v < msThreshold {
		return int64(math.Round(v * 1000))
	}
	return int64(math.Round(v))
}

func parseStringTimestamp(s string) *TimestampResult {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	if numericPattern.MatchString(trimmed) {
		return parseNumericString(trimmed)
	}
	return parseISODate(trimmed)
}

func parseNumericString(s string) *TimestampResult {
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		ms := int64(math.Round(f * 1000))
		return &TimestampResult{
			TimestampMs:  ms,
			TimestampUTC: time.UnixMilli(ms).UTC().Format(time.RFC3339Nano),
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}

	var ms int64
	if len(s) >= 13 {
		ms = num // already milliseconds
	} else {
		ms = num * 1000
	}

	return &TimestampResult{
		TimestampMs:  ms,
		TimestampUTC: time.UnixMilli(ms).UTC().Format(time.RFC3339Nano),
	}
}

func parseISODate(s string) *TimestampResult {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z0700",
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &TimestampResult{
				TimestampMs:  t.UnixMilli(),
				TimestampUTC: t.UTC().Format(time.RFC3339Nano),
			}
		}
	}
	return nil
}

// WithNormalizedTimestamp returns a copy of value with "timestampMs" and
// "timestampUtc" keys filled in from rawTimestamp, unless value already
// carries valid values for those keys.
func WithNormalizedTimestamp(value map[string]any, rawTimestamp any) map[string]any {
	normalized := NormalizeTimestamp(rawTimestamp)
	if normalized == nil {
		return value
	}

	result := make(map[string]any, len(value)+2)
	for k, v := range value {
		result[k] = v
	}

	if existing, ok := result["timestampMs"]; !ok || !isValidTimestampMs(existing) {
		result["timestampMs"] = normalized.TimestampMs
	}
	if existing, ok := result["timestampUtc"]; !ok || !isValidTimestampUTC(existing) {
		result["timestampUtc"] = normalized.TimestampUTC
	}

	return result
}

func isValidTimestampMs(v any) bool {
	switch n := v.(type) {
	case int64, int:
		return true
	case float64:
		return !math.IsNaN(n) && !math.IsInf(n, 0)
	default:
		return false
	}
}

func isValidTimestampUTC(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(s) != ""
}
