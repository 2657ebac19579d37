package normalize

import "github.com/socialpulse/ig-insights/internal/models"

// MetricInfo describes a metric the service recognizes
type MetricInfo struct {
	Title       string
	Description string
}

// Catalog holds the recognized account insight metrics. Titles and
// descriptions fill in entries whose upstream payload omits them.
var Catalog = map[string]MetricInfo{
	"impressions": {
		Title:       "Impressions",
		Description: "Total number of times the account's media have been viewed",
	},
	"reach": {
		Title:       "Reach",
		Description: "Total number of unique accounts that have seen the account's media",
	},
	"profile_views": {
		Title:       "Profile Views",
		Description: "Number of times the profile has been viewed",
	},
	"website_clicks": {
		Title:       "Website Clicks",
		Description: "Number of taps on the website link in the profile",
	},
	"email_contacts": {
		Title:       "Email Contacts",
		Description: "Number of taps on the email link in the profile",
	},
	"get_directions_clicks": {
		Title:       "Get Directions Clicks",
		Description: "Number of taps on the Get Directions button in the profile",
	},
	"phone_call_clicks": {
		Title:       "Phone Call Clicks",
		Description: "Number of taps on the call button in the profile",
	},
	"text_message_clicks": {
		Title:       "Text Message Clicks",
		Description: "Number of taps on the text message button in the profile",
	},
	"follower_count": {
		Title:       "Follower Count",
		Description: "Total number of new followers each day within the range",
	},
	"online_followers": {
		Title:       "Online Followers",
		Description: "Number of followers online during each hour of the day",
	},
	"accounts_engaged": {
		Title:       "Accounts Engaged",
		Description: "Number of accounts that have interacted with the content",
	},
	"total_interactions": {
		Title:       "Total Interactions",
		Description: "Total number of interactions on posts, stories, reels and videos",
	},
}

// lifetime is accepted for metrics such as online_followers
const periodLifetime models.Period = "lifetime"

func known(name string, period models.Period) bool {
	if _, ok := Catalog[name]; !ok {
		return false
	}
	return period.Known() || period == periodLifetime
}
