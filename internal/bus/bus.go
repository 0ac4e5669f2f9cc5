// internal/bus/bus.go
package bus

import "context"

// Message is a payload received on a bus channel
type Message struct {
	Channel string
	Payload []byte
}

// Bus is the external publish/subscribe collaborator of the hub
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe streams messages from the given channels until ctx is done,
	// then closes the returned channel
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}
