// Package calendarinvite generates iCalendar (.ics) content and
// "Add to Calendar" deep links, supplementing a feature present in
// original_source's schedule_tool.py but dropped from the distilled
// spec. No iCalendar-format library appears in the example pack, so
// the format is built as a small text template (see DESIGN.md).
package calendarinvite

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// EventDetails is the input to GenerateICS/GenerateLinks.
type EventDetails struct {
	Title       string
	StartTime   time.Time
	EndTime     time.Time // zero value means "unset"
	Description string
	Location    string
	Attendees   []string
}

const icsTimestampFormat = "20060102T150405Z"

// GenerateICS renders a single-event VCALENDAR document per RFC 5545.
func GenerateICS(details EventDetails) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//mxrelay//schedule-tool//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s@mxrelay.internal\r\n", icsUID(details))
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", time.Now().UTC().Format(icsTimestampFormat))
	fmt.Fprintf(&b, "DTSTART:%s\r\n", details.StartTime.UTC().Format(icsTimestampFormat))
	if !details.EndTime.IsZero() {
		fmt.Fprintf(&b, "DTEND:%s\r\n", details.EndTime.UTC().Format(icsTimestampFormat))
	}
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escapeICSText(details.Title))
	if details.Description != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", escapeICSText(details.Description))
	}
	if details.Location != "" {
		fmt.Fprintf(&b, "LOCATION:%s\r\n", escapeICSText(details.Location))
	}
	for _, attendee := range details.Attendees {
		fmt.Fprintf(&b, "ATTENDEE:mailto:%s\r\n", attendee)
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func icsUID(details EventDetails) string {
	return fmt.Sprintf("%d", details.StartTime.UTC().UnixNano())
}

// escapeICSText escapes the characters RFC 5545 §3.3.11 requires
// escaped in TEXT values.
func escapeICSText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// Links holds the generated "Add to Calendar" deep links.
type Links struct {
	Google  string
	Outlook string
}

// GenerateLinks builds Google and Outlook calendar deep links for the
// event, following schedule_tool.py's generate_calendar_links.
func GenerateLinks(details EventDetails) Links {
	startUTC := details.StartTime.UTC()
	endUTC := details.EndTime.UTC()
	if details.EndTime.IsZero() {
		endUTC = startUTC
	}

	startFmt := startUTC.Format(icsTimestampFormat)
	endFmt := endUTC.Format(icsTimestampFormat)

	google := url.Values{}
	google.Set("action", "TEMPLATE")
	google.Set("text", details.Title)
	google.Set("dates", startFmt+"/"+endFmt)
	google.Set("details", details.Description)
	google.Set("location", details.Location)
	if len(details.Attendees) > 0 {
		google.Set("add", strings.Join(details.Attendees, ","))
	}

	outlook := url.Values{}
	outlook.Set("path", "/calendar/action/compose")
	outlook.Set("rru", "addevent")
	outlook.Set("startdt", startUTC.Format("2006-01-02T15:04:05"))
	outlook.Set("enddt", endUTC.Format("2006-01-02T15:04:05"))
	outlook.Set("subject", details.Title)
	outlook.Set("body", details.Description)
	outlook.Set("location", details.Location)

	return Links{
		Google:  "https://www.google.com/calendar/render?" + google.Encode(),
		Outlook: "https://outlook.live.com/calendar/0/deeplink/compose?" + outlook.Encode(),
	}
}

// Result is the tool's structured response.
type Result struct {
	Status  string
	ICS     string
	Links   Links
	Message string
}

// Generate produces the ICS content and deep links in one call,
// matching the original tool's combined forward() contract.
func Generate(details EventDetails) Result {
	if details.Title == "" || details.StartTime.IsZero() {
		return Result{Status: "error", Message: "title and start_time are required"}
	}
	return Result{
		Status:  "success",
		ICS:     GenerateICS(details),
		Links:   GenerateLinks(details),
		Message: "Successfully generated calendar data. The ICS content should be used to create an email attachment.",
	}
}
