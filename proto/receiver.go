package proto

// Receiver is a deduplicating, out-of-order-tolerant datagram consumer.
// It tracks a ring of "already delivered" flags across a buffered window,
// advances its local cycle strictly monotonically, and delivers each
// logical message to its Sink at most once.
//
// A Receiver is not safe for concurrent use; exactly one task should drive
// it via HandleDatagram.
type Receiver struct {
	params Params
	cipher cipher
	sink   Sink

	cycle int
	flags []bool

	// OnSoftWarning and OnHardWarning are optional telemetry hooks; they
	// never change delivery behavior. Soft fires when a datagram arrives
	// more than min(8, Window+1) cycles ahead of the local cycle; hard
	// fires when it's far enough ahead to force a fast-forward.
	OnSoftWarning func(cycleDiff int)
	OnHardWarning func(cycleDiff int)
}

// NewReceiver constructs a Receiver for the given (size, window)
// parameters, shared cipher key, and Sink.
func NewReceiver(size, window int, key uint64, sink Sink) (*Receiver, error) {
	params, err := NewParams(size, window)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		params: params,
		cipher: newCipher(key),
		sink:   sink,
		flags:  make([]bool, params.MaxBuffered),
	}, nil
}

// Params returns the derived constants this Receiver was constructed with.
func (r *Receiver) Params() Params { return r.params }

// Cycle returns the lowest cycle whose delivery status is still pending.
func (r *Receiver) Cycle() int { return r.cycle }

// HandleDatagram decrypts and processes one datagram in place. A datagram
// whose length is not exactly Params.DatagramSize is silently dropped;
// HandleDatagram never returns an error and is safe to call with stale,
// duplicate, or forged input, all of which are silently dropped.
func (r *Receiver) HandleDatagram(timestamp uint16, datagram []byte) {
	if len(datagram) != r.params.DatagramSize {
		return
	}

	maxCycle := r.params.MaxCycle
	maxBuffered := r.params.MaxBuffered
	window := r.params.Window
	size := r.params.Size

	header := (*[4]byte)(datagram[0:4])
	r.cipher.decryptHeader(header)
	dgCycle := int(header[0]) | int(header[1])<<8
	dgTimestamp := uint16(header[2]) | uint16(header[3])<<8

	cycleDiff := ((dgCycle + maxCycle) - r.cycle) % maxCycle
	tsDiff := (int(dgTimestamp) + 65535 - int(timestamp)) % 65535

	if cycleDiff > 256 || tsDiff > 2048 {
		return
	}

	soft := 8
	if window+1 < soft {
		soft = window + 1
	}
	if cycleDiff > soft && r.OnSoftWarning != nil {
		r.OnSoftWarning(cycleDiff)
	}

	// The ring holds MaxBuffered pending cycles, [r.cycle, r.cycle+MaxBuffered);
	// a datagram at or beyond the end of that range forces a fast-forward so
	// that no two pending cycles share a flag slot.
	if cycleDiff >= maxBuffered {
		if r.OnHardWarning != nil {
			r.OnHardWarning(cycleDiff)
		}
		for k := 0; k <= cycleDiff-maxBuffered; k++ {
			r.flags[r.cycle%maxBuffered] = false
			r.cycle = (r.cycle + 1) % maxCycle
		}
	}

	for i := 0; i < window; i++ {
		cycleI := ((dgCycle + maxCycle) - i) % maxCycle

		if ((cycleI+maxCycle)-r.cycle)%maxCycle >= maxBuffered {
			break
		}

		dst := cycleI % maxBuffered
		if r.flags[dst] {
			continue
		}

		srcIdx := cycleI % window
		start := 4 + size*srcIdx
		end := start + size
		slot := datagram[start:end]

		if !isZero(slot) {
			r.cipher.decryptSlot(slot)
			r.sink.Handle(slot)
		}
		r.flags[dst] = true
	}

	for r.flags[r.cycle%maxBuffered] {
		r.flags[r.cycle%maxBuffered] = false
		r.cycle = (r.cycle + 1) % maxCycle
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
