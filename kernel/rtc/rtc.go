// Package rtc reads the current wall-clock time from the CMOS real-time
// clock, backing the TIME syscall (spec.md §7). Grounded on
// original_source/libc/time/time.c's CMOS register layout and BCD decoding,
// restyled in the port-I/O function-variable indirection idiom shared by
// kernel/irq and kernel/pit.
package rtc

import "ferrite/kernel/cpu"

const (
	cmosAddress = uint16(0x70)
	cmosData    = uint16(0x71)

	regSeconds = uint8(0x00)
	regMinutes = uint8(0x02)
	regHours   = uint8(0x04)
	regDay     = uint8(0x07)
	regMonth   = uint8(0x08)
	regYear    = uint8(0x09)
	regStatusA = uint8(0x0A)
	regStatusB = uint8(0x0B)

	updateInProgress = uint8(0x80)
)

var (
	inbFn  = cpu.Inb
	outbFn = cpu.Outb
)

// Time is a decoded CMOS RTC reading.
type Time struct {
	Second, Minute, Hour uint8
	Day, Month           uint8
	Year                 uint16
}

func readRegister(reg uint8) uint8 {
	outbFn(cmosAddress, reg)
	return inbFn(cmosData)
}

// Read returns the current time. It busy-waits until the update-in-progress
// bit is clear (as original_source's time.c does) and then reads each
// register once; the reads are not repeated, so an update that starts
// during the sequence is not detected.
func Read() Time {
	for readRegister(regStatusA)&updateInProgress != 0 {
	}

	second := readRegister(regSeconds)
	minute := readRegister(regMinutes)
	hour := readRegister(regHours)
	day := readRegister(regDay)
	month := readRegister(regMonth)
	year := readRegister(regYear)

	statusB := readRegister(regStatusB)
	binary := statusB&0x04 != 0

	if !binary {
		second = fromBCD(second)
		minute = fromBCD(minute)
		hour = fromBCD(hour&0x7F) | (hour & 0x80)
		day = fromBCD(day)
		month = fromBCD(month)
		year = fromBCD(year)
	}

	// statusB bit 1 clear means 12-hour mode with bit 7 of the hour
	// register marking PM.
	if statusB&0x02 == 0 && hour&0x80 != 0 {
		hour = ((hour & 0x7F) + 12) % 24
	}

	return Time{
		Second: second,
		Minute: minute,
		Hour:   hour,
		Day:    day,
		Month:  month,
		Year:   2000 + uint16(year),
	}
}

func fromBCD(v uint8) uint8 {
	return (v & 0x0F) + ((v / 16) * 10)
}

// Unix converts the reading to seconds since the Unix epoch, backing the
// TIME syscall (spec.md §4.6). original_source's time() stubs this out
// entirely ("TODO: implement"; rtc_get_current_time doesn't exist in the
// retrieved sources), so the day count uses the standard civil-calendar
// algorithm (days_from_civil) rather than a port of missing C.
func (t Time) Unix() int64 {
	y := int64(t.Year)
	m := int64(t.Month)
	d := int64(t.Day)

	if m <= 2 {
		y--
	}
	era := y
	if era < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400
	mp := (m + 9) % 12
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	days := era*146097 + doe - 719468

	return days*86400 + int64(t.Hour)*3600 + int64(t.Minute)*60 + int64(t.Second)
}
