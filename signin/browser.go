package signin

import (
	"fmt"

	"github.com/pkg/browser"
)

// SystemWindowOpener opens URLs in the user's default browser. The system
// browser offers no remote handle, so Focus and Close are no-ops; closing
// the window is left to the handler page itself.
type SystemWindowOpener struct{}

// Open launches the default browser at url. Window features are advisory
// and cannot be honoured by the system browser.
func (SystemWindowOpener) Open(url string, _ WindowFeatures) (WindowHandle, error) {
	if err := browser.OpenURL(url); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	return systemWindow{}, nil
}

type systemWindow struct{}

func (systemWindow) Focus() {}
func (systemWindow) Close() {}

// StaticEnvironment is a fixed-value Environment, typically populated from
// configuration at startup.
type StaticEnvironment struct {
	Host      string
	Agent     string
	AppOrigin string
}

func (e StaticEnvironment) Hostname() string  { return e.Host }
func (e StaticEnvironment) UserAgent() string { return e.Agent }
func (e StaticEnvironment) Origin() string    { return e.AppOrigin }
