// Package transport owns the raw WebSocket connection to the MAX server.
//
// The Transport interface is the only component with read/write access to
// socket bytes. A Transport is single-use: once Receive has reported a
// closure the instance cannot be reconnected, and the supervisor creates a
// fresh one for every connection attempt. This keeps reconnection state
// out of the socket layer entirely.
//
// The production implementation is WebSocketTransport, built on
// github.com/gorilla/websocket. Tests substitute their own Transport.
package transport
