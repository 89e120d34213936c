package notify

// Client is one live subscriber of the hub, e.g. a reviewer's websocket.
type Client interface {
	// GetID returns the unique identifier of the connection.
	GetID() string
	// GetSendChannel returns the channel the hub delivers events to.
	GetSendChannel() chan<- Event
	// Run starts the client's pumps.
	Run()
	// Close is called by the hub exactly once, after the client is removed.
	Close()
}
