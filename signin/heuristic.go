package signin

import "strings"

// Method names a sign-in strategy.
type Method string

const (
	MethodPopup    Method = "popup"
	MethodRedirect Method = "redirect"
)

// Hostname suffixes of cloud development sandboxes where popups are
// frequently blocked or lose their opener relationship. The list is a
// heuristic, not a contract; extend it as new sandboxes show up.
var cloudSandboxSuffixes = []string{
	".app.github.dev",
	".githubpreview.dev",
	".gitpod.io",
	".csb.app",
	".stackblitz.io",
	".webcontainer.io",
}

// User-agent fragments indicating mobile WebKit or in-app browsers, where
// popup flows have historically been more reliable than redirect-with-return.
var mobileAgentFragments = []string{
	"iphone",
	"ipad",
	"ipod",
	"android",
	"mobile",
	"fban",
	"fbav",
	"instagram",
}

// RecommendedAuthMethod suggests a sign-in strategy from environment
// signals. It is a pure function: identical inputs always yield the same
// recommendation, and it never fails.
func RecommendedAuthMethod(env Environment) Method {
	host := strings.ToLower(env.Hostname())
	for _, suffix := range cloudSandboxSuffixes {
		if strings.HasSuffix(host, suffix) {
			return MethodRedirect
		}
	}

	agent := strings.ToLower(env.UserAgent())
	for _, fragment := range mobileAgentFragments {
		if strings.Contains(agent, fragment) {
			return MethodPopup
		}
	}

	// Desktop Chrome-family and Safari both handle popups well.
	if strings.Contains(agent, "chrome") || strings.Contains(agent, "safari") {
		return MethodPopup
	}

	return MethodPopup
}
