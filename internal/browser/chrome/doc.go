// Package chrome implements the capture browser capability with chromedp.
//
// One Browser owns one headless browser process. Each execution context is
// a separate browser context (Target.createBrowserContext), so cookie jars
// and caches never leak between pool slots. Each job gets a fresh target in
// its context, closed when the job ends.
package chrome
