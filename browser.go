package oauth

import (
	"fmt"

	"github.com/pkg/browser"
)

var browserLauncher = browser.OpenURL

// OpenBrowser hands url to the desktop's default browser.
func OpenBrowser(url string) error {
	if err := browserLauncher(url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}
