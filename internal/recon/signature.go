package recon

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// CodeSignature fingerprints a script so repeated attempts can be spotted.
// Blank lines, comment lines and indentation do not count.
func CodeSignature(code string) string {
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		lines = append(lines, t)
	}
	sum := md5.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])[:8]
}

// InferStrategies guesses which evasion strategies a script used.
func InferStrategies(code string, level AntiBotLevel, selectorsValidated bool) []string {
	out := []string{"stealth_browser_" + string(ProfileFor(level).Level)}
	if selectorsValidated {
		out = append(out, "validated_selectors")
	}
	if strings.Contains(code, "wait_for_timeout") {
		out = append(out, "human_delays")
	}
	if strings.Contains(code, "playwright_stealth") || strings.Contains(code, "playwright-stealth") ||
		strings.Contains(code, "add_init_script") {
		out = append(out, "anti_detection_script")
	}
	return out
}
