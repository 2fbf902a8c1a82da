package tempstorage

import "time"

// unixEpochTicks is the number of 100-nanosecond ticks between 0001-01-01
// (the .NET/Windows tick epoch referenced by the manifest format) and the
// Unix epoch.
const unixEpochTicks = 621355968000000000

// ToTicks converts t to UTC 100-ns ticks since 0001-01-01, matching the
// manifest's timestamp precision.
func ToTicks(t time.Time) int64 {
	return unixEpochTicks + t.UTC().UnixNano()/100
}

// FromTicks is the inverse of ToTicks.
func FromTicks(ticks int64) time.Time {
	nanos := (ticks - unixEpochTicks) * 100
	return time.Unix(0, nanos).UTC()
}
