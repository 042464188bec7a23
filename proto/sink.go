package proto

// Sink consumes exactly one delivered message per producer cycle. Like
// Source, it is synchronous and must not block.
type Sink interface {
	Handle(message []byte)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(message []byte)

func (f SinkFunc) Handle(message []byte) { f(message) }
