package channelio

import (
	"time"

	"naia/bitio"
)

// fragmentTTL bounds how long a partial assembly is held before being
// discarded silently, per spec.md's "fragment assemblies have a TTL;
// expired fragments are discarded silently."
const fragmentTTL = 5 * time.Second

// FragmentHeader identifies one chunk of a message too large to fit in a
// single packet.
type FragmentHeader struct {
	FragmentID uint16
	ChunkIndex uint16
	ChunkCount uint16
}

// WriteFragmentHeader writes h followed by the chunk's bytes, length-prefixed.
func WriteFragmentHeader(w bitio.BitSink, h FragmentHeader, chunk []byte) error {
	if err := bitio.WriteU16(w, h.FragmentID); err != nil {
		return err
	}
	if err := bitio.WriteU16(w, h.ChunkIndex); err != nil {
		return err
	}
	if err := bitio.WriteU16(w, h.ChunkCount); err != nil {
		return err
	}
	return bitio.WriteBytesP(w, chunk)
}

// ReadFragmentHeader reads a fragment header and its chunk bytes.
func ReadFragmentHeader(r *bitio.Reader) (FragmentHeader, []byte, error) {
	id, err := bitio.ReadU16(r)
	if err != nil {
		return FragmentHeader{}, nil, err
	}
	idx, err := bitio.ReadU16(r)
	if err != nil {
		return FragmentHeader{}, nil, err
	}
	count, err := bitio.ReadU16(r)
	if err != nil {
		return FragmentHeader{}, nil, err
	}
	chunk, err := bitio.ReadBytesP(r, 1<<20)
	if err != nil {
		return FragmentHeader{}, nil, err
	}
	return FragmentHeader{FragmentID: id, ChunkIndex: idx, ChunkCount: count}, chunk, nil
}

// SplitFragments splits payload into chunks of chunkSize bytes (the last
// one holding the remainder) tagged with a shared fragment id, for a sender whose encoded message exceeds the
// packet's remaining bit budget after reserving terminator bits.
func SplitFragments(fragmentID uint16, payload []byte, chunkSize int) []struct {
	Header FragmentHeader
	Chunk  []byte
} {
	if chunkSize <= 0 {
		chunkSize = 400
	}
	count := (len(payload) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}
	out := make([]struct {
		Header FragmentHeader
		Chunk  []byte
	}, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, struct {
			Header FragmentHeader
			Chunk  []byte
		}{
			Header: FragmentHeader{FragmentID: fragmentID, ChunkIndex: uint16(i), ChunkCount: uint16(count)},
			Chunk:  payload[start:end],
		})
	}
	return out
}

// partialAssembly tracks the chunks received so far for one fragment id.
type partialAssembly struct {
	chunks     map[uint16][]byte
	chunkCount uint16
	lastSeen   time.Time
}

// FragmentReceiver reassembles fragmented messages, keyed by fragment id,
// discarding any assembly that sits incomplete past its TTL.
type FragmentReceiver struct {
	assemblies map[uint16]*partialAssembly
}

// NewFragmentReceiver returns an empty fragment receiver.
func NewFragmentReceiver() *FragmentReceiver {
	return &FragmentReceiver{assemblies: make(map[uint16]*partialAssembly)}
}

// Receive records one fragment's chunk, returning the fully reassembled
// payload (in chunk order) once every chunk for its fragment id has
// arrived. now is used to timestamp the assembly for later expiry.
func (f *FragmentReceiver) Receive(now time.Time, h FragmentHeader, chunk []byte) ([]byte, bool) {
	a, ok := f.assemblies[h.FragmentID]
	if !ok {
		a = &partialAssembly{chunks: make(map[uint16][]byte), chunkCount: h.ChunkCount}
		f.assemblies[h.FragmentID] = a
	}
	a.chunks[h.ChunkIndex] = chunk
	a.lastSeen = now

	if uint16(len(a.chunks)) < a.chunkCount {
		return nil, false
	}
	var full []byte
	for i := uint16(0); i < a.chunkCount; i++ {
		full = append(full, a.chunks[i]...)
	}
	delete(f.assemblies, h.FragmentID)
	return full, true
}

// ExpireStale discards any partial assembly that has been incomplete for
// longer than fragmentTTL, per the "expired fragments are discarded
// silently" rule — no error is raised for the sender or application.
func (f *FragmentReceiver) ExpireStale(now time.Time) {
	for id, a := range f.assemblies {
		if now.Sub(a.lastSeen) > fragmentTTL {
			delete(f.assemblies, id)
		}
	}
}

// Pending reports how many fragment assemblies are currently in flight.
func (f *FragmentReceiver) Pending() int { return len(f.assemblies) }
