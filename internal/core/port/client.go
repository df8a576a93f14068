package port

import "github.com/quotewise/callbridge/internal/protocol"

// Client is one channel as seen by the signaling service. Send must not
// block the caller; implementations queue frames for their own writer.
type Client interface {
	ID() string
	Send(env protocol.Envelope) error
	Close() error
}
