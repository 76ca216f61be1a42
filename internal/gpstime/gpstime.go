// Package gpstime converts between LAS point-record GPS time
// and civil UTC time. LAS stores GPS time in one of two flavours: "GPS
// Week Time" (seconds since the start of the current GPS week) or
// "Standard GPS Time" (seconds since GPS epoch, minus 1e9 to keep the
// values in a comfortable float64 range, the LAS-spec "adjusted standard
// GPS time"). Both need Julian day arithmetic to round-trip to a
// civil time.Time, which is what github.com/soniakeys/meeus/v3/julian
// provides (go-gsf dependency, otherwise unused in go-gsf; see
// DESIGN.md).
package gpstime

import (
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// AdjustedEpochOffset is the constant LAS subtracts from true GPS seconds
// to produce "Adjusted Standard GPS Time" (1e9 seconds, per the LAS 1.4
// spec's point data record format description).
const AdjustedEpochOffset = 1_000_000_000

// gpsEpoch is the GPS time epoch, 1980-01-06T00:00:00 UTC. GPS time does
// not observe leap seconds; for chunk-processing purposes (ordering,
// buffering, spike timestamps) the leap-second offset between GPS and UTC
// is not corrected for, matching the original engine's treatment of
// gpstime as an opaque sortable double.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// gpsEpochJD is the Julian day number of the GPS epoch.
var gpsEpochJD = julian.TimeToJD(gpsEpoch)

// ToAdjustedStandard converts a civil UTC time to LAS adjusted standard
// GPS time (seconds since GPS epoch minus AdjustedEpochOffset).
func ToAdjustedStandard(t time.Time) float64 {
	jd := julian.TimeToJD(t.UTC())
	seconds := float64(jd-gpsEpochJD) * 86400
	return seconds - AdjustedEpochOffset
}

// FromAdjustedStandard converts LAS adjusted standard GPS time back to a
// civil UTC time.
func FromAdjustedStandard(gps float64) time.Time {
	seconds := gps + AdjustedEpochOffset
	jd := gpsEpochJD + julian.JD(seconds/86400)
	return jd.Time().UTC()
}

// WeekAndSeconds splits adjusted standard GPS time into a GPS week number
// and the seconds-of-week remainder, the form "GPS Week Time" point
// records store.
func WeekAndSeconds(gps float64) (week int, secondsOfWeek float64) {
	totalSeconds := gps + AdjustedEpochOffset
	week = int(totalSeconds / (7 * 86400))
	secondsOfWeek = totalSeconds - float64(week)*7*86400
	return week, secondsOfWeek
}

// FromWeekAndSeconds is the inverse of WeekAndSeconds.
func FromWeekAndSeconds(week int, secondsOfWeek float64) float64 {
	totalSeconds := float64(week)*7*86400 + secondsOfWeek
	return totalSeconds - AdjustedEpochOffset
}
