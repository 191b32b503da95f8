package surface

import (
	"time"

	"github.com/charmbracelet/log"
)

// DateTimeOptions are the formatting options a caller passes. TimeZone is
// always replaced by the profile timezone.
type DateTimeOptions struct {
	TimeZone  string
	DateStyle string // short, medium, long, full or empty
	TimeStyle string
}

type ResolvedOptions struct {
	Locale   string `json:"locale"`
	TimeZone string `json:"timeZone"`
}

// DateTimeFormat is a formatter bound to the spoofed locale and zone.
type DateTimeFormat struct {
	locale   string
	zone     string
	location *time.Location
	opts     DateTimeOptions
}

// DateTimeFormat ignores the requested locale and time zone in favour of the
// profile's. Other options are kept.
func (a *Adapter) DateTimeFormat(_ string, opts DateTimeOptions) *DateTimeFormat {
	p := a.Snapshot().Profile
	locale := p.PrimaryLanguage()
	if locale == "" {
		locale = "en-US"
	}
	zone := p.Timezone
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		if zone != "" {
			log.Warn("surface: unknown timezone, using UTC", "timezone", zone, "error", err)
		}
		zone, loc = "UTC", time.UTC
	}
	opts.TimeZone = zone
	return &DateTimeFormat{locale: locale, zone: zone, location: loc, opts: opts}
}

func (f *DateTimeFormat) ResolvedOptions() ResolvedOptions {
	return ResolvedOptions{Locale: f.locale, TimeZone: f.zone}
}

func (f *DateTimeFormat) Location() *time.Location {
	return f.location
}

// Format renders t in the spoofed zone using the locale's layout.
func (f *DateTimeFormat) Format(t time.Time) string {
	t = t.In(f.location)
	l := layoutFor(f.locale)

	dateStyle, timeStyle := f.opts.DateStyle, f.opts.TimeStyle
	if dateStyle == "" && timeStyle == "" {
		dateStyle = "short"
	}

	out := ""
	if dateStyle != "" {
		out = t.Format(l.date(dateStyle))
	}
	if timeStyle != "" {
		if out != "" {
			out += l.sep
		}
		out += t.Format(l.clock)
	}
	return out
}

// TimezoneOffset is the offset in minutes west of UTC at t, the sign
// convention page scripts expect.
func (f *DateTimeFormat) TimezoneOffset(t time.Time) int {
	_, offset := t.In(f.location).Zone()
	return -offset / 60
}

// FormatTime renders t with the profile's default date and time layout.
func (a *Adapter) FormatTime(t time.Time) string {
	return a.DateTimeFormat("", DateTimeOptions{DateStyle: "short", TimeStyle: "medium"}).Format(t)
}

type localeLayout struct {
	short string
	long  string
	clock string
	sep   string
}

func (l localeLayout) date(style string) string {
	switch style {
	case "long", "full":
		return l.long
	default:
		return l.short
	}
}

var localeLayouts = map[string]localeLayout{
	"en-US": {short: "1/2/2006", long: "January 2, 2006", clock: "3:04:05 PM", sep: ", "},
	"en-GB": {short: "02/01/2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
	"de":    {short: "2.1.2006", long: "2. January 2006", clock: "15:04:05", sep: ", "},
	"fr":    {short: "02/01/2006", long: "2 January 2006", clock: "15:04:05", sep: " "},
	"es":    {short: "2/1/2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
	"it":    {short: "2/1/2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
	"pt":    {short: "02/01/2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
	"nl":    {short: "2-1-2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
	"ja":    {short: "2006/1/2", long: "2006/01/02", clock: "15:04:05", sep: " "},
	"zh":    {short: "2006/1/2", long: "2006/01/02", clock: "15:04:05", sep: " "},
	"ko":    {short: "2006. 1. 2.", long: "2006. 1. 2.", clock: "15:04:05", sep: " "},
	"ru":    {short: "02.01.2006", long: "2 January 2006", clock: "15:04:05", sep: ", "},
}

func layoutFor(locale string) localeLayout {
	if l, ok := localeLayouts[locale]; ok {
		return l
	}
	lang := locale
	for i := 0; i < len(locale); i++ {
		if locale[i] == '-' || locale[i] == '_' {
			lang = locale[:i]
			break
		}
	}
	if l, ok := localeLayouts[lang]; ok {
		return l
	}
	if lang == "en" {
		return localeLayouts["en-US"]
	}
	return localeLayout{short: "2006-01-02", long: "2006-01-02", clock: "15:04:05", sep: " "}
}
