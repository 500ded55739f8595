package recon

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Anti-bot feature groups.
const (
	BotCloudflare   = "cloudflare"
	BotAkamai       = "akamai"
	BotDistil       = "distil"
	BotPerimeterX   = "perimeterx"
	BotDatadome     = "datadome"
	BotCaptcha      = "captcha"
	BotRateLimiting = "rate_limiting"
	BotDetection    = "bot_detection"
)

// Ordered so detected features come out in a stable order.
var antiBotPatterns = []struct {
	group   string
	pattern *regexp.Regexp
}{
	{BotCloudflare, regexp.MustCompile(`cloudflare|cf-challenge|cf_clearance|__cf_bm`)},
	{BotAkamai, regexp.MustCompile(`akamai|ak_bmsc`)},
	{BotDistil, regexp.MustCompile(`distil|distilid|distilcid`)},
	{BotPerimeterX, regexp.MustCompile(`perimeterx|\bpx-|_pxvid`)},
	{BotDatadome, regexp.MustCompile(`datadome|\bdd_`)},
	{BotCaptcha, regexp.MustCompile(`captcha|recaptcha|hcaptcha|turnstile|challenge-platform`)},
	{BotRateLimiting, regexp.MustCompile(`rate.?limit|too.?many.?requests|\b429\b`)},
	{BotDetection, regexp.MustCompile(`bot.?detector|webdriver|automation|fingerprint`)},
}

var (
	highGroups   = map[string]bool{BotCloudflare: true, BotCaptcha: true, BotPerimeterX: true, BotDatadome: true}
	mediumGroups = map[string]bool{BotAkamai: true, BotDistil: true, BotDetection: true}
)

// AntiBotResult is what detection found.
type AntiBotResult struct {
	Level    AntiBotLevel `json:"level"`
	Features []string     `json:"detected_features"`
}

// LevelFor grades a set of detected groups.
func LevelFor(groups []string) AntiBotLevel {
	if len(groups) == 0 {
		return AntiBotNone
	}
	level := AntiBotLow
	for _, g := range groups {
		if highGroups[g] {
			return AntiBotHigh
		}
		if mediumGroups[g] {
			level = AntiBotMedium
		}
	}
	return level
}

// DetectFromHTML matches the page source against the known groups.
func DetectFromHTML(source string) AntiBotResult {
	lower := strings.ToLower(source)
	var found []string
	for _, p := range antiBotPatterns {
		if p.pattern.MatchString(lower) {
			found = append(found, p.group)
		}
	}
	return AntiBotResult{Level: LevelFor(found), Features: found}
}

// DetectFromHeaders looks for CDN and bot-protection fingerprints in the
// response headers.
func DetectFromHeaders(headers map[string]string) AntiBotResult {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}
	all := strings.ToLower(b.String())

	var found []string
	if strings.Contains(all, "cloudflare") || strings.Contains(all, "cf-ray") {
		found = append(found, BotCloudflare)
	}
	if strings.Contains(all, "akamai") {
		found = append(found, BotAkamai)
	}
	if strings.Contains(all, "x-bot") || strings.Contains(all, "bot-protection") {
		found = append(found, BotDetection)
	}
	return AntiBotResult{Level: LevelFor(found), Features: found}
}

// DetectAntiBot combines HTML and header detection; the stronger level wins.
func DetectAntiBot(source string, headers map[string]string) AntiBotResult {
	h := DetectFromHTML(source)
	if len(headers) == 0 {
		return h
	}
	hd := DetectFromHeaders(headers)
	out := AntiBotResult{Level: h.Level.Max(hd.Level), Features: h.Features}
	for _, f := range hd.Features {
		if !slices.Contains(out.Features, f) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}
