// Package main is the entry point of the pagecapture HTTP service.
//
// The service keeps a small pool of isolated headless-browser contexts and,
// per POST request, navigates to a URL and returns the final URL, a
// screenshot, the rendered HTML, the cookie jar and a HAR archive of the
// network traffic.
//
// Configuration comes from the environment (and an optional .env file);
// flags override it:
//
//	./server -port 3000 -pool 4 -browser /usr/bin/chromium
//	./server -dev
//
// SIGINT and SIGTERM drain running captures before exit.
package main
