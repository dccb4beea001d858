package signin

import "testing"

func TestRecommendedAuthMethod(t *testing.T) {
	const chromeDesktop = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	const safariMobile = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	const firefoxDesktop = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"

	cases := []struct {
		name  string
		host  string
		agent string
		want  Method
	}{
		{"github codespaces forces redirect", "musical-space-abc123-3000.app.github.dev", chromeDesktop, MethodRedirect},
		{"gitpod forces redirect", "3000-myworkspace.ws-eu114.gitpod.io", chromeDesktop, MethodRedirect},
		{"codesandbox forces redirect", "abc123.csb.app", chromeDesktop, MethodRedirect},
		{"stackblitz forces redirect", "project.stackblitz.io", firefoxDesktop, MethodRedirect},
		{"sandbox beats mobile agent", "abc123.csb.app", safariMobile, MethodRedirect},
		{"mobile safari prefers popup", "orders.example.com", safariMobile, MethodPopup},
		{"facebook in-app browser prefers popup", "orders.example.com", "Mozilla/5.0 (iPhone) [FBAN/FBIOS;FBAV/420.0]", MethodPopup},
		{"desktop chrome prefers popup", "orders.example.com", chromeDesktop, MethodPopup},
		{"desktop firefox defaults to popup", "orders.example.com", firefoxDesktop, MethodPopup},
		{"empty signals default to popup", "", "", MethodPopup},
		{"case-insensitive host match", "ABC123.CSB.APP", chromeDesktop, MethodRedirect},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := StaticEnvironment{Host: tc.host, Agent: tc.agent}
			if got := RecommendedAuthMethod(env); got != tc.want {
				t.Fatalf("host=%q agent=%q: got %s, want %s", tc.host, tc.agent, got, tc.want)
			}
		})
	}
}

func TestRecommendedAuthMethodIsDeterministic(t *testing.T) {
	env := StaticEnvironment{Host: "orders.example.com", Agent: "some custom agent"}
	first := RecommendedAuthMethod(env)
	for i := 0; i < 5; i++ {
		if got := RecommendedAuthMethod(env); got != first {
			t.Fatalf("recommendation changed between calls: %s then %s", first, got)
		}
	}
}
