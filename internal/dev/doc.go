// Package dev holds the browser-facing pieces of development mode: the
// live-reload hub and the router that fronts the request bridge.
//
// # Live reload protocol
//
// Browsers connect to /__bootz/reload with a WebSocket. Messages are JSON:
//
//	{"type": "reload"}                                // reload the page
//	{"type": "error", "target": "client", "error": "..."} // show the overlay
//	{"type": "clear"}                                 // hide the overlay
//
// ClientScript implements the browser side and is injected into HTML
// responses of the server module.
package dev
