package session

import "errors"

var (
	// ErrNotConnected is returned by publish and send paths while the
	// connection is down; callers treat it as a no-op, not a crash.
	ErrNotConnected = errors.New("session is not connected")

	// ErrNoFocus is returned by SendMessage when no conversation is open.
	ErrNoFocus = errors.New("no conversation is focused")

	// ErrHandshakeRejected marks a server-side refusal of the session
	// handshake (bad credential). Unlike transport failures it is terminal:
	// retrying with the same token cannot succeed.
	ErrHandshakeRejected = errors.New("server rejected session handshake")
)
