package channelio

import (
	"bytes"
	"testing"
	"time"

	"naia/bitio"
)

func TestSplitAndReassembleFragments(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 200) // 1600 bytes
	parts := SplitFragments(42, payload, 400)
	if len(parts) != 4 {
		t.Fatalf("expected 4 chunks for 1600 bytes at 400/chunk, got %d", len(parts))
	}

	recv := NewFragmentReceiver()
	now := time.Unix(0, 0)
	var full []byte
	var ok bool
	for i, p := range parts {
		full, ok = recv.Receive(now, p.Header, p.Chunk)
		if i < len(parts)-1 && ok {
			t.Fatalf("expected assembly incomplete before final chunk %d", i)
		}
	}
	if !ok {
		t.Fatal("expected assembly complete after final chunk")
	}
	if !bytes.Equal(full, payload) {
		t.Fatal("reassembled payload does not match original")
	}
	if recv.Pending() != 0 {
		t.Fatalf("expected no pending assemblies after completion, got %d", recv.Pending())
	}
}

func TestFragmentHeaderWireRoundTrip(t *testing.T) {
	h := FragmentHeader{FragmentID: 7, ChunkIndex: 2, ChunkCount: 5}
	chunk := []byte("hello fragment")

	w := bitio.NewWriter(0)
	if err := WriteFragmentHeader(w, h, chunk); err != nil {
		t.Fatal(err)
	}
	r := bitio.NewReader(w.Bytes())
	gotH, gotChunk, err := ReadFragmentHeader(r)
	if err != nil {
		t.Fatal(err)
	}
	if gotH != h || !bytes.Equal(gotChunk, chunk) {
		t.Fatalf("got header %#v chunk %q", gotH, gotChunk)
	}
}

func TestFragmentReceiverExpiresStaleAssembly(t *testing.T) {
	recv := NewFragmentReceiver()
	now := time.Unix(0, 0)
	recv.Receive(now, FragmentHeader{FragmentID: 1, ChunkIndex: 0, ChunkCount: 2}, []byte("only-one"))
	if recv.Pending() != 1 {
		t.Fatalf("expected one partial assembly, got %d", recv.Pending())
	}
	recv.ExpireStale(now.Add(fragmentTTL + time.Second))
	if recv.Pending() != 0 {
		t.Fatalf("expected stale assembly discarded silently, got %d pending", recv.Pending())
	}
}
