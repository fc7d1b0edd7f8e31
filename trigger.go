package diana

import "time"

// NextTrigger returns the next instant at which an alarm set for tod fires,
// as seen from now.
//
// The candidate is tod on now's calendar date, in now's location. If that
// instant is not after now, the candidate moves to the next calendar day.
// The result is always after now.
//
// Wall-clock times that don't exist because of a DST gap resolve to the
// instant that lies the gap's width past tod (02:30 becomes 03:30 when clocks
// jump from 02:00 to 03:00). Wall-clock times that occur twice resolve to
// the earliest occurrence.
func NextTrigger(tod TimeOfDay, now time.Time) time.Time {
	y, m, d := now.Date()
	next := wallClock(y, m, d, tod, now.Location())
	if !next.After(now) {
		next = wallClock(y, m, d+1, tod, now.Location())
	}
	return next
}

// wallClock returns the instant on the given date whose wall clock in loc
// reads tod.
func wallClock(year int, month time.Month, day int, tod TimeOfDay, loc *time.Location) time.Time {
	naive := time.Date(year, month, day, tod.Hour, tod.Minute, 0, 0, time.UTC)

	// Zone transitions are months apart, so the offsets two days either side
	// of the wall time cover every candidate.
	_, before := naive.Add(-48 * time.Hour).In(loc).Zone()
	_, after := naive.Add(48 * time.Hour).In(loc).Zone()

	early := naive.Add(-time.Duration(before) * time.Second).In(loc)
	if readsAs(early, naive) {
		return early
	}
	late := naive.Add(-time.Duration(after) * time.Second).In(loc)
	if readsAs(late, naive) {
		return late
	}
	// Gap: early is past the transition, shifted forward by its width.
	return early
}

func readsAs(t, naive time.Time) bool {
	y, m, d := t.Date()
	ny, nm, nd := naive.Date()
	return y == ny && m == nm && d == nd && t.Hour() == naive.Hour() && t.Minute() == naive.Minute()
}
