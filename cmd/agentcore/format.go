package main

import (
	"fmt"
	"time"

	"github.com/codexcore/agentcore/internal/datetime"
	"github.com/codexcore/agentcore/internal/format"
	"github.com/codexcore/agentcore/internal/rollout"
)

// formatRolloutRow renders one "rollout ls" line: id, a human-friendly
// timestamp in the given timezone, how long ago that was, and the path.
// Pulled out of buildRolloutLsCmd's RunE so it can be golden-tested without
// spinning up a cobra command.
func formatRolloutRow(s rollout.Summary, tz string, timeFormat datetime.ResolvedTimeFormat, now time.Time) string {
	ts, err := time.Parse(time.RFC3339, s.Meta.Timestamp)
	if err != nil {
		// Older rollout files may carry a timestamp in a different shape
		// (unix seconds/millis, a bare date); fall back to the lenient
		// normalizer rather than dropping the timestamp entirely.
		if normalized := datetime.NormalizeTimestamp(s.Meta.Timestamp); normalized != nil {
			ts = time.UnixMilli(normalized.TimestampMs).UTC()
		} else {
			return fmt.Sprintf("%s\t%s\t%s", s.ID, s.Meta.Timestamp, s.Path)
		}
	}

	when := datetime.FormatUserTime(ts, tz, timeFormat)
	if when == "" {
		when = ts.UTC().Format(time.RFC3339)
	}
	ago := format.FormatDurationMsInt(now.Sub(ts).Milliseconds())
	return fmt.Sprintf("%s\t%s (%s ago)\t%s", s.ID, when, ago, s.Path)
}
