package sqlite

import (
	"fmt"
	"time"
)

// sqliteTimeLayout is the fixed-width UTC layout used for every DATETIME
// column. Fixed width keeps lexicographic comparison equal to chronological
// comparison, which the queue visibility and ledger expiry queries rely on.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// formatTime renders a timestamp for storage and for comparison parameters.
func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// timeFormats covers the representations the modernc driver hands back for
// DATETIME columns, depending on how the value was written.
var timeFormats = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
}

// parseTime parses a DATETIME column value scanned as a string.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}
