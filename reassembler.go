package go_cdp

import (
	"sync"
)

// PartialMessage accumulates the fragments of one session-plane message
// while they are in flight. Fragments of one message share a sequence
// number; the message is complete when every declared fragment index
// has been seen.
type PartialMessage struct {
	SequenceNumber uint32
	ChannelID      uint64
	fragmentCount  uint16
	fragments      [][]byte
	received       uint16
}

func newPartialMessage(header *CommonHeader) *PartialMessage {
	return &PartialMessage{
		SequenceNumber: header.SequenceNumber,
		ChannelID:      header.ChannelID,
		fragmentCount:  header.FragmentCount,
		fragments:      make([][]byte, header.FragmentCount),
	}
}

// AddFragment records the fragment carried by header. A fragment index
// outside the declared count, a count disagreement between fragments,
// or a duplicate index is rejected with ErrReassemblyOverflow.
func (pm *PartialMessage) AddFragment(header *CommonHeader, payload []byte) error {
	if header.FragmentCount != pm.fragmentCount {
		return ErrReassemblyOverflow
	}
	if int(header.FragmentIndex) >= len(pm.fragments) {
		return ErrReassemblyOverflow
	}
	if pm.fragments[header.FragmentIndex] != nil {
		return ErrReassemblyOverflow
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	pm.fragments[header.FragmentIndex] = buf
	pm.received++
	return nil
}

// IsComplete reports whether every declared fragment has arrived.
func (pm *PartialMessage) IsComplete() bool {
	return pm.received == pm.fragmentCount
}

// Assemble concatenates the fragments in index order. Only valid once
// IsComplete returns true.
func (pm *PartialMessage) Assemble() []byte {
	total := 0
	for _, f := range pm.fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range pm.fragments {
		out = append(out, f...)
	}
	return out
}

// reassembler is the per-session table of in-flight partial messages,
// keyed by sequence number. Assembly is serialized per sequence number
// by the table mutex.
type reassembler struct {
	mu      sync.Mutex
	partial map[uint32]*PartialMessage
}

func newReassembler() *reassembler {
	return &reassembler{partial: make(map[uint32]*PartialMessage)}
}

// addFragment routes the fragment to its partial message, creating the
// entry on first sight. When the fragment completes the message, the
// entry is removed from the table and the assembled payload returned;
// otherwise the returned slice is nil.
func (r *reassembler) addFragment(header *CommonHeader, payload []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pm, ok := r.partial[header.SequenceNumber]
	if !ok {
		pm = newPartialMessage(header)
		r.partial[header.SequenceNumber] = pm
	}
	if err := pm.AddFragment(header, payload); err != nil {
		// A poisoned sequence number is dropped wholesale so a
		// retransmit can start clean.
		delete(r.partial, header.SequenceNumber)
		return nil, err
	}
	if !pm.IsComplete() {
		return nil, nil
	}
	delete(r.partial, header.SequenceNumber)
	return pm.Assemble(), nil
}

// pendingCount returns the number of in-flight partial messages.
func (r *reassembler) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partial)
}

// clear drops every in-flight partial message. Called on session
// teardown.
func (r *reassembler) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial = make(map[uint32]*PartialMessage)
}
