package proto

// Source produces application messages for a Sender to poll once per tick.
// Implementations must not block; the host's tick loop calls Poll inline.
type Source interface {
	// Poll populates buf (exactly Params.Size bytes) with the next message,
	// returning true if a message was written. Returning false leaves buf
	// untouched — the Sender zero-fills the slot itself.
	Poll(buf []byte) bool
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(buf []byte) bool

func (f SourceFunc) Poll(buf []byte) bool { return f(buf) }
