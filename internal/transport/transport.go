package transport

import "context"

// Transport owns one physical connection to the server and moves opaque
// frames across it. Reconnect policy, heartbeats and protocol semantics live
// above, in the session connection.
type Transport interface {
	Name() string
	Target() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}
