package shvdata

import (
	"fmt"
	"time"
)

// Epoch is the SHV wire epoch: 2018-02-02T00:00:00Z. DateTime values
// are encoded on the wire as milliseconds relative to this instant.
var Epoch = time.Date(2018, time.February, 2, 0, 0, 0, 0, time.UTC)

// DateTime is an absolute instant plus a UTC offset recorded in
// 15-minute quarter-hour units, per spec.md's invariant that the
// offset is an integer multiple of 15 minutes in [-63, 63].
type DateTime struct {
	// MsecSinceEpoch is milliseconds since Epoch, UTC.
	MsecSinceEpoch int64
	// OffsetQuarterHours is the UTC offset in units of 15 minutes,
	// range [-63, 63].
	OffsetQuarterHours int
}

// FromTime converts a time.Time to a DateTime, truncating the zone
// offset toward zero to whole quarter hours (per the wire's
// granularity) and truncating to millisecond precision.
func FromTime(t time.Time) DateTime {
	_, offsetSec := t.Zone()
	qh := offsetSec / (15 * 60)
	if qh > 63 {
		qh = 63
	}
	if qh < -63 {
		qh = -63
	}
	ms := t.UTC().Sub(Epoch).Milliseconds()
	return DateTime{MsecSinceEpoch: ms, OffsetQuarterHours: qh}
}

// Time reconstructs the absolute instant as a time.Time in the
// DateTime's own recorded zone offset.
func (d DateTime) Time() time.Time {
	instant := Epoch.Add(time.Duration(d.MsecSinceEpoch) * time.Millisecond)
	loc := time.FixedZone(fmt.Sprintf("UTC%+03d:%02d", d.OffsetQuarterHours*15/60, abs(d.OffsetQuarterHours*15%60)), d.OffsetQuarterHours*15*60)
	return instant.In(loc)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (d DateTime) String() string {
	return d.Time().Format("2006-01-02T15:04:05.000Z07:00")
}

func (a DateTime) Equal(b DateTime) bool {
	return a.MsecSinceEpoch == b.MsecSinceEpoch && a.OffsetQuarterHours == b.OffsetQuarterHours
}
