package feedback

import (
	"context"
	"strings"
)

// Source resolves app names and lists a day's reviews for an app.
type Source interface {
	ResolveApp(ctx context.Context, name string, reqID string) (string, error)
	Reviews(ctx context.Context, appID, date string, reqID string) ([]Review, error)
}

// commonApps short-circuits lookups for well known apps.
var commonApps = map[string]string{
	"instagram": "com.instagram.android",
	"insta":     "com.instagram.android",
	"swiggy":    "in.swiggy.android",
	"zomato":    "com.application.zomato",
	"uber":      "com.ubercab",
	"blinkit":   "com.grofers.customerapp",
	"zepto":     "com.zeptonow.customer",
	"whatsapp":  "com.whatsapp",
	"snapchat":  "com.snapchat.android",
	"facebook":  "com.facebook.katana",
	"twitter":   "com.twitter.android",
	"x":         "com.twitter.android",
	"linkedin":  "com.linkedin.android",
	"youtube":   "com.google.android.youtube",
	"netflix":   "com.netflix.mediaclient",
	"spotify":   "com.spotify.music",
}

// LookupAlias returns the known app id for a case-insensitive name.
func LookupAlias(name string) (string, bool) {
	id, ok := commonApps[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// keepDay drops reviews outside date and fills a missing Date from At.
// Undated reviews are attributed to date.
func keepDay(reviews []Review, date string) []Review {
	out := reviews[:0]
	for _, r := range reviews {
		switch {
		case r.Date != "":
		case len(r.At) >= len(date):
			r.Date = r.At[:len(date)]
		default:
			r.Date = date
		}
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}
