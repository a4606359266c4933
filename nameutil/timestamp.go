package nameutil

import (
	"fmt"
	"time"
)

// exFAT packs a date as year(7)<<9 | month(4)<<5 | day(5) with year offset
// 1980, and a time as hour(5)<<11 | min(6)<<5 | twosec(5) (2-second
// granularity); §4.4.
const (
	secPerMinute = 60
	secPerHour   = 60 * secPerMinute
	secPerDay    = 24 * secPerHour
	secPerYear   = 365 * secPerDay

	unixEpochYear  = 1970
	exfatEpochYear = 1980
	epochDiffYear  = exfatEpochYear - unixEpochYear
	// epochDiffDays accounts for the leap days between the two epochs.
	epochDiffDays = epochDiffYear*365 + epochDiffYear/4
	epochDiffSec  = epochDiffDays * secPerDay
)

// daysBeforeMonth[i] is the number of days elapsed before month i (1-12)
// in a non-leap year, 0-indexed with a leading zero filler.
var daysBeforeMonth = [...]int64{0, 0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// leapYearsBefore returns the number of leap years between the exFAT epoch
// and the given exFAT year offset (exclusive of the year itself), mirroring
// upstream's LEAP_YEARS macro.
func leapYearsBefore(yearOffset int64) int64 {
	return (int64(exfatEpochYear)+yearOffset-1)/4 - (int64(exfatEpochYear)-1)/4
}

func isLeapYear(yearOffset int64) bool {
	return (int64(exfatEpochYear)+yearOffset)%4 == 0
}

// ExfatToUnix converts an exFAT (date, time) pair plus optional
// centiseconds to a Unix time, correcting for the given UTC offset in
// seconds (timestamps are stored in local time on disk; tzOffsetSec is the
// process's offset at mount time, per §4.4). centiseconds outside 0..199
// are ignored (callers pass 0 when the field isn't present).
func ExfatToUnix(date, clock uint16, centiseconds uint8, tzOffsetSec int) (time.Time, error) {
	day := int64(date & 0x1F)
	month := int64((date >> 5) & 0x0F)
	yearOffset := int64((date >> 9) & 0x7F)

	twosec := int64(clock & 0x1F)
	minute := int64((clock >> 5) & 0x3F)
	hour := int64((clock >> 11) & 0x1F)

	if day == 0 || month == 0 || month > 12 {
		return time.Time{}, fmt.Errorf("nameutil: bad exfat date %d-%02d-%02d", yearOffset+exfatEpochYear, month, day)
	}
	if hour > 23 || minute > 59 || twosec > 29 {
		return time.Time{}, fmt.Errorf("nameutil: bad exfat time %02d:%02d:%02d", hour, minute, twosec*2)
	}

	unixTime := int64(epochDiffSec)
	unixTime += yearOffset*secPerYear + leapYearsBefore(yearOffset)*secPerDay
	unixTime += daysBeforeMonth[month] * secPerDay
	if isLeapYear(yearOffset) && month > 2 {
		unixTime += secPerDay
	}
	unixTime += (day - 1) * secPerDay

	unixTime += hour * secPerHour
	unixTime += minute * secPerMinute
	unixTime += twosec * 2

	unixTime -= int64(tzOffsetSec)

	if centiseconds <= 199 {
		unixTime += int64(centiseconds / 100)
	}

	return time.Unix(unixTime, 0).UTC(), nil
}

// UnixToExfat converts a Unix time to an exFAT (date, time, centiseconds)
// triple local to tzOffsetSec. Times before the exFAT epoch are clamped
// forward to it, since exFAT cannot represent them (§4.4).
func UnixToExfat(t time.Time, tzOffsetSec int) (date, clock uint16, centiseconds uint8) {
	shift := int64(epochDiffSec) - int64(tzOffsetSec)
	unixTime := t.Unix()
	if unixTime < shift {
		unixTime = shift
	}
	unixTime -= shift

	days := unixTime / secPerDay
	yearOffset := (4 * days) / (4*365 + 1)
	days -= yearOffset*365 + leapYearsBefore(yearOffset)

	var month int64 = 12
	for m := int64(1); m <= 12; m++ {
		leapDay := int64(0)
		leapSub := int64(0)
		if isLeapYear(yearOffset) && m == 2 {
			leapDay = 1
		}
		if isLeapYear(yearOffset) && m >= 3 {
			leapSub = 1
		}
		if m == 12 || days-leapSub < daysBeforeMonth[m+1]+leapDay {
			month = m
			days -= daysBeforeMonth[m] + leapSub
			break
		}
	}
	day := days + 1

	secOfDay := unixTime % secPerDay
	hour := secOfDay / secPerHour
	minute := (secOfDay % secPerHour) / secPerMinute
	twosec := (secOfDay % secPerMinute) / 2

	date = uint16(yearOffset<<9 | month<<5 | day)
	clock = uint16(hour<<11 | minute<<5 | twosec)
	return date, clock, 0
}
