package proto

// Sender is a cycle-advancing, windowed datagram producer. It pulls one
// message per tick from a Source and emits a datagram carrying the
// current slot plus the previous Window-1 slots, each encrypted, for
// redundancy against loss.
//
// A Sender is not safe for concurrent use; exactly one task should drive
// it via PollDatagram.
type Sender struct {
	params Params
	cipher cipher
	source Source

	cycle  int
	flags  []bool
	buffer []byte
}

// NewSender constructs a Sender for the given (size, window) parameters,
// shared cipher key, and Source. Returns InvalidParameters-equivalent
// error if size/window is unsupported or violates the datagram-size
// budget.
func NewSender(size, window int, key uint64, source Source) (*Sender, error) {
	params, err := NewParams(size, window)
	if err != nil {
		return nil, err
	}
	return &Sender{
		params: params,
		cipher: newCipher(key),
		source: source,
		flags:  make([]bool, window),
		buffer: make([]byte, params.DatagramSize),
	}, nil
}

// Params returns the derived constants this Sender was constructed with.
func (s *Sender) Params() Params { return s.params }

// Cycle returns the cycle of the next slot to be produced.
func (s *Sender) Cycle() int { return s.cycle }

// PollDatagram is called once per tick. It writes the cycle and timestamp
// into the header, polls the Source for the current slot, and — if any
// slot in the window currently holds real data — encrypts and returns the
// whole datagram, advancing the cycle. If the window is entirely empty
// (the Source has never produced data within it), it returns nil and the
// cycle does not advance; the empty slot will be retried at the same cycle
// next time PollDatagram is called.
//
// The returned slice aliases the Sender's internal buffer and is only
// valid until the next call to PollDatagram.
func (s *Sender) PollDatagram(timestamp uint16) []byte {
	s.buffer[0] = byte(s.cycle)
	s.buffer[1] = byte(s.cycle >> 8)
	s.buffer[2] = byte(timestamp)
	s.buffer[3] = byte(timestamp >> 8)
	s.cipher.encryptHeader((*[4]byte)(s.buffer[0:4]))

	index := s.cycle % s.params.Window
	start := 4 + s.params.Size*index
	end := start + s.params.Size
	slot := s.buffer[start:end]

	if s.source.Poll(slot) {
		s.cipher.encryptSlot(slot)
		s.flags[index] = true
	} else {
		for i := range slot {
			slot[i] = 0
		}
		s.flags[index] = false
	}

	any := false
	for _, f := range s.flags {
		if f {
			any = true
			break
		}
	}
	if !any {
		return nil
	}

	s.cycle = (s.cycle + 1) % s.params.MaxCycle
	return s.buffer
}
