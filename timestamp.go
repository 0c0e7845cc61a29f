package fat32

import "time"

// TimestampProvider supplies the current time for stamping directory
// entries on creation or modification. Injectable so a volume on a
// microcontroller with no battery-backed clock can wire in whatever time
// source it has (or none, yielding zeroed timestamps per Config.EnableTime).
type TimestampProvider interface {
	Now() time.Time
}

// systemClock is the default TimestampProvider, backed by the host clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
