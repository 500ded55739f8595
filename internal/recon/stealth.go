package recon

import (
	"fmt"
	"strings"
)

// StealthProfile is how carefully a generated script should behave for an
// anti-bot level.
type StealthProfile struct {
	Level             AntiBotLevel `json:"level"`
	UseStealth        bool         `json:"use_stealth"`
	RandomUserAgent   bool         `json:"random_ua"`
	PlaywrightStealth bool         `json:"use_playwright_stealth"`
	DelayMin          int          `json:"delay_min"`
	DelayMax          int          `json:"delay_max"`
	WaitForStability  bool         `json:"wait_for_stability"`
}

var stealthProfiles = map[AntiBotLevel]StealthProfile{
	AntiBotNone:   {Level: AntiBotNone},
	AntiBotLow:    {Level: AntiBotLow, UseStealth: true, RandomUserAgent: true, DelayMin: 1, DelayMax: 2},
	AntiBotMedium: {Level: AntiBotMedium, UseStealth: true, RandomUserAgent: true, PlaywrightStealth: true, DelayMin: 2, DelayMax: 4, WaitForStability: true},
	AntiBotHigh:   {Level: AntiBotHigh, UseStealth: true, RandomUserAgent: true, PlaywrightStealth: true, DelayMin: 3, DelayMax: 6, WaitForStability: true},
}

// ProfileFor returns the profile for level. An unset level gets medium:
// when nothing is known, stealth is the default.
func ProfileFor(level AntiBotLevel) StealthProfile {
	if p, ok := stealthProfiles[level]; ok {
		return p
	}
	return stealthProfiles[AntiBotMedium]
}

// LaunchArgs are the browser flags for the profile.
func (p StealthProfile) LaunchArgs() []string {
	if !p.UseStealth {
		return nil
	}
	return []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
	}
}

const baseInitScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = {runtime: {}, loadTimes: function() {}, csi: function() {}, app: {}};
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});`

const extraInitScript = `
const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
    parameters.name === 'notifications' ?
        Promise.resolve({ state: Notification.permission }) :
        originalQuery(parameters)
);`

// InitScript is the JavaScript injected before any page script runs.
func (p StealthProfile) InitScript() string {
	switch p.Level {
	case AntiBotNone:
		return ""
	case AntiBotMedium, AntiBotHigh:
		return baseInitScript + extraInitScript
	default:
		return baseInitScript
	}
}

// Hints renders the profile as instructions for the code generator.
func (p StealthProfile) Hints() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Anti-bot level: %s\n", p.Level)
	if !p.UseStealth {
		b.WriteString("- A plain headless browser is enough.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- Launch args: %s\n", strings.Join(p.LaunchArgs(), " "))
	if p.RandomUserAgent {
		b.WriteString("- Use a random realistic desktop User-Agent.\n")
	}
	if p.PlaywrightStealth {
		b.WriteString("- Apply playwright-stealth if available.\n")
	}
	fmt.Fprintf(&b, "- Wait a random %d-%d seconds between navigations (page.wait_for_timeout).\n", p.DelayMin, p.DelayMax)
	if p.WaitForStability {
		b.WriteString("- Wait for network idle before reading the DOM.\n")
	}
	b.WriteString("- Inject this script with page.add_init_script before navigating:\n")
	b.WriteString(p.InitScript())
	b.WriteString("\n")
	return b.String()
}
