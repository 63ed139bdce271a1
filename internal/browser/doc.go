// Package browser drives the interactive part of a sign-in from a terminal.
//
// Presenter opens the authorization URL in the system browser and runs a
// CallbackServer on the loopback redirect URI to capture the provider's
// redirect. The captured URL is handed back unchanged so that state and code
// validation stay with the auth package.
package browser
