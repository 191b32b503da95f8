package filter

// Matching is plain substring containment against the full URL.

var trackerPatterns = []string{
	"google-analytics.com",
	"doubleclick.net",
	"googletagmanager.com",
	"facebook.com/tr",
	"pixel",
	"metrics",
	"analytics",
}

var adPatterns = []string{
	"adsystem",
	"adservice",
	"googlesyndication",
	"/ads?",
	"adserver",
	"banner",
}

// campaignParams are matched against the lowercased URL.
var campaignParams = []string{
	"utm_source=",
	"utm_medium=",
	"utm_campaign=",
	"utm_term=",
	"utm_content=",
	"gclid=",
	"fbclid=",
	"msclkid=",
	"dclid=",
	"yclid=",
	"mc_eid=",
	"_hsenc=",
	"igshid=",
}

var telemetrySegments = []string{
	"/telemetry",
	"/collect?",
	"/beacon/",
	"/log_event",
	"/clientlog",
	"/error-reporting",
	"/rum?",
}
