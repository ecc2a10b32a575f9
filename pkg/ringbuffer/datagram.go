package ringbuffer

// Datagram is a ring slot as described in spec.md §3: a fixed-size owned
// byte buffer plus a length. The packetizer writes a built RTP datagram
// directly into Buf[:N]; the UDP sender reads it out and never retains a
// reference past the send call, so the same *Datagram is safely reused
// once it cycles back to the producer.
type Datagram struct {
	Buf []byte
	N   int
}

// Bytes returns the used portion of the slot.
func (d *Datagram) Bytes() []byte {
	return d.Buf[:d.N]
}

// NewDatagramPool preallocates count Datagram slots of the given
// capacity, sized to the ring that will carry them so producer and
// consumer never contend for the same slot (spec.md §3 Ring Slot
// ownership rules).
func NewDatagramPool(count uint64, capacity int) []*Datagram {
	pool := make([]*Datagram, count)
	storage := make([]byte, int(count)*capacity)
	for i := range pool {
		pool[i] = &Datagram{Buf: storage[i*capacity : (i+1)*capacity : (i+1)*capacity]}
	}
	return pool
}

// Token is the payload carried by the encoder→sender ring: an index into
// a preallocated buffer pool owned by the frame source adapter, not a
// copy of the access unit itself.
type Token struct {
	BufferIndex int
	Len         int
	PTSUs       int64
	KeyFrame    bool
	CodecConfig bool
}
