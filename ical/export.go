// Package ical exports alarms as an iCalendar stream, so that calendar
// clients can subscribe to them.
package ical

import (
	"fmt"
	"io"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"bsid.es/diana"
)

const (
	ProductID = "-//bsid.es//diana//EN"
	MediaType = "text/calendar; charset=utf-8"
)

// Calendar returns a calendar with one daily recurring event per alarm. Each
// event starts on the day of the alarm's next trigger after now and carries a
// display alarm at its start. Disabled alarms are exported as cancelled
// events.
//
// Start times are floating local times: an alarm rings at its time of day in
// whatever zone the client is in, so the calendar carries no VTIMEZONE.
func Calendar(alarms []*diana.Alarm, now time.Time) *goical.Calendar {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, ProductID)

	cal.Children = make([]*goical.Component, 0, len(alarms))
	for _, a := range alarms {
		cal.Children = append(cal.Children, event(a, now))
	}
	return cal
}

// Export writes the calendar of alarms to w.
func Export(w io.Writer, alarms []*diana.Alarm, now time.Time) error {
	return goical.NewEncoder(w).Encode(Calendar(alarms, now))
}

func event(a *diana.Alarm, now time.Time) *goical.Component {
	ev := goical.NewEvent()
	ev.Props.SetText(goical.PropUID, string(a.ID))
	ev.Props.SetDateTime(goical.PropDateTimeStamp, now.UTC())
	ev.Props.Set(floatingStart(a.TimeOfDay, now))
	ev.Props.SetText(goical.PropSummary, a.Label)
	ev.Props.SetRecurrenceRule(&rrule.ROption{
		Freq:     rrule.DAILY,
		Byhour:   []int{a.TimeOfDay.Hour},
		Byminute: []int{a.TimeOfDay.Minute},
	})
	if !a.CreatedAt.IsZero() {
		ev.Props.SetDateTime(goical.PropCreated, a.CreatedAt.UTC())
	}
	if a.Enabled {
		ev.Props.SetText(goical.PropStatus, "CONFIRMED")
	} else {
		ev.Props.SetText(goical.PropStatus, "CANCELLED")
	}

	display := goical.NewComponent(goical.CompAlarm)
	display.Props.SetText(goical.PropAction, "DISPLAY")
	display.Props.SetText(goical.PropDescription, a.Label)
	trigger := goical.NewProp(goical.PropTrigger)
	trigger.Value = "PT0S"
	display.Props.Set(trigger)
	ev.Children = append(ev.Children, display)

	return ev.Component
}

// floatingStart is a DTSTART on the date of tod's next trigger after now, at
// tod's wall time even when a DST gap shifts that day's trigger.
func floatingStart(tod diana.TimeOfDay, now time.Time) *goical.Prop {
	day := diana.NextTrigger(tod, now)
	prop := goical.NewProp(goical.PropDateTimeStart)
	prop.Value = fmt.Sprintf("%04d%02d%02dT%02d%02d00",
		day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute)
	return prop
}
