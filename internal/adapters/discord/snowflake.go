package discord

import (
	"strconv"
	"time"
)

// discordEpoch is the snowflake epoch in milliseconds (2015-01-01T00:00:00Z).
const discordEpoch = 1420070400000

// SnowflakeTime extracts the creation time encoded in a snowflake id. A
// non-numeric id yields the zero time.
func SnowflakeTime(id string) time.Time {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	ms := int64(n>>22) + discordEpoch
	return time.UnixMilli(ms).UTC()
}
