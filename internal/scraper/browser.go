// Package scraper drives a headless browser against retailer product pages
// and extracts normalized product fields from the rendered HTML.
package scraper

import (
	"fmt"
	"os"

	"github.com/chromedp/chromedp"

	"github.com/productowl/productowl/internal/config"
)

// wellKnownChromePaths are tried in order when no explicit executable is
// configured for the local profile.
var wellKnownChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// serverlessChromePath is where the bundled minimal Chromium lives in the
// managed deployment image.
const serverlessChromePath = "/opt/chromium/chrome"

// allocatorOptions resolves the browser launch configuration for the given
// profile. The resolution happens once, at fetcher construction; call sites
// never branch on the deployment environment.
func allocatorOptions(cfg config.Config) ([]chromedp.ExecAllocatorOption, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1440, 900),
	)

	switch cfg.Profile {
	case config.ProfileServerless:
		path := cfg.ChromePath
		if path == "" {
			path = serverlessChromePath
		}
		opts = append(opts,
			chromedp.ExecPath(path),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("no-zygote", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("single-process", true),
		)
	case config.ProfileLocal:
		path, err := discoverChrome(cfg.ChromePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chromedp.ExecPath(path))
	default:
		return nil, fmt.Errorf("unknown browser profile %q", cfg.Profile)
	}

	return opts, nil
}

// discoverChrome returns the first usable browser executable, preferring an
// explicit override over the well-known path list.
func discoverChrome(override string) (string, error) {
	candidates := wellKnownChromePaths
	if override != "" {
		candidates = append([]string{override}, candidates...)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", &FetchError{
		Outcome: OutcomeLaunchError,
		Err:     fmt.Errorf("no browser executable found; install Chrome or set CHROME_PATH"),
	}
}
