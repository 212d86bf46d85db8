package zicklaabot

import (
	"fmt"
	"strings"
	"time"
)

const absoluteTimeLayout = "02.01.2006 15:04"

// formatAbsolute renders an epoch-seconds timestamp in the given
// location, e.g. "01.09.2026 15:30".
func formatAbsolute(epoch int64, loc *time.Location) string {
	return time.Unix(epoch, 0).In(loc).Format(absoluteTimeLayout)
}

type humanizeUnit struct {
	seconds  int64
	singular string
	plural   string
}

var humanizeUnits = []humanizeUnit{
	{365 * 86400, "Jahr", "Jahre"},
	{30 * 86400, "Monat", "Monate"},
	{7 * 86400, "Woche", "Wochen"},
	{86400, "Tag", "Tage"},
	{3600, "Stunde", "Stunden"},
	{60, "Minute", "Minuten"},
	{1, "Sekunde", "Sekunden"},
}

// humanizeSeconds renders a duration as a compact German phrase using
// at most the two largest applicable units, e.g. "1 Tag 1 Stunde" or
// "2 Minuten". Zero and negative durations render as "bald".
func humanizeSeconds(seconds int64) string {
	if seconds <= 0 {
		return "bald"
	}

	var parts []string
	remaining := seconds
	for _, unit := range humanizeUnits {
		if len(parts) == 2 {
			break
		}
		count := remaining / unit.seconds
		if count == 0 {
			continue
		}
		remaining -= count * unit.seconds
		name := unit.plural
		if count == 1 {
			name = unit.singular
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, name))
	}
	return strings.Join(parts, " ")
}

// humanizeUntil renders the time remaining until the given epoch
// timestamp, relative to now.
func humanizeUntil(epoch int64, now time.Time) string {
	return humanizeSeconds(epoch - now.Unix())
}
