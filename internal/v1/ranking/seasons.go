package ranking

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeasonLength is how long a rating season stays active.
const SeasonLength = 30 * 24 * time.Hour

// FirstSeasonName bootstraps a database with no seasons.
const FirstSeasonName = "Season 1"

// NextSeasonName derives the successor of a "Season N" name.
// Unrecognized names restart the sequence.
func NextSeasonName(current string) string {
	fields := strings.Fields(current)
	if len(fields) == 2 && fields[0] == "Season" {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			return fmt.Sprintf("Season %d", n+1)
		}
	}
	return FirstSeasonName
}

// SeasonExpired reports whether a season that started at start should roll
// over as of now.
func SeasonExpired(start, now time.Time) bool {
	return !now.Before(start.Add(SeasonLength))
}
