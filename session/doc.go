// Package session persists the durable client state that lets a device
// skip re-authentication across restarts: the generated device identity,
// the login token once one has been issued, and the device metadata the
// server uses to recognize returning clients.
//
// The session file is plain JSON so it stays inspectable for debugging.
// Saving is atomic (write to a temporary file, then rename), so a crash
// mid-write never corrupts the previous valid session. A missing or
// corrupt file is treated as "no session" and never fails the caller.
package session
