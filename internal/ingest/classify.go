package ingest

import "strings"

// knownCrawlers maps user-agent substrings to crawler families. This is a
// best-effort heuristic: caller-supplied labels always take precedence.
var knownCrawlers = []struct {
	needle string
	family string
}{
	{"gptbot", "gptbot"},
	{"oai-searchbot", "oai-searchbot"},
	{"chatgpt-user", "chatgpt-user"},
	{"claudebot", "claudebot"},
	{"claude-web", "claudebot"},
	{"anthropic-ai", "claudebot"},
	{"perplexitybot", "perplexitybot"},
	{"google-extended", "google-extended"},
	{"googlebot", "googlebot"},
	{"bingbot", "bingbot"},
	{"ccbot", "ccbot"},
	{"bytespider", "bytespider"},
	{"amazonbot", "amazonbot"},
	{"applebot", "applebot"},
	{"meta-externalagent", "meta-externalagent"},
	{"facebookexternalhit", "meta-externalagent"},
	{"diffbot", "diffbot"},
	{"omgili", "omgili"},
	{"youbot", "youbot"},
}

// humanFamily is the label upstream collectors attach to traffic they
// consider human.
const humanFamily = "humanish"

// Classify decides whether an event is bot traffic and which crawler
// family it belongs to. Caller-supplied labels win; the UA substring
// table is the fallback.
func Classify(userAgent, suppliedFamily string, suppliedIsBot *bool) (bool, string) {
	family := strings.ToLower(strings.TrimSpace(suppliedFamily))

	if suppliedIsBot != nil {
		if !*suppliedIsBot {
			return false, humanFamily
		}
		if family == "" || family == humanFamily {
			family = uaFamily(userAgent)
			if family == "" {
				family = "unknown-bot"
			}
		}
		return true, family
	}

	if family != "" {
		return family != humanFamily, family
	}

	if f := uaFamily(userAgent); f != "" {
		return true, f
	}
	return false, humanFamily
}

func uaFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, c := range knownCrawlers {
		if strings.Contains(ua, c.needle) {
			return c.family
		}
	}
	return ""
}
