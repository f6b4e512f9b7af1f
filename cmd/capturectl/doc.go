// Command capturectl submits one capture job to a pagecapture server and
// writes the result to disk: screenshot.png, page.html, page.har and
// cookies.json.
//
//	capturectl -url https://example.com -cookie sid=abc -sleep 500 -out ./capture
package main
