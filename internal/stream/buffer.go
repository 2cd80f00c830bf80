package stream

import (
	"github.com/visionguard/visionguard/internal/model"
)

// Buffer keeps, per tracked person, a bounded FIFO of the last N pose
// frames. The classifier only ever sees complete N-length sequences.
// Single-owner: only the stream processor touches it.
type Buffer struct {
	n    int
	seqs map[int][]model.PoseFrame
}

func NewBuffer(n int) *Buffer {
	return &Buffer{n: n, seqs: make(map[int][]model.PoseFrame)}
}

// Push appends a frame, evicting the oldest when at capacity.
func (b *Buffer) Push(personID int, pf model.PoseFrame) {
	seq := b.seqs[personID]
	if len(seq) == b.n {
		copy(seq, seq[1:])
		seq[b.n-1] = pf
	} else {
		seq = append(seq, pf)
	}
	b.seqs[personID] = seq
}

// Sequence returns a copy of the person's sequence only when the buffer is
// full; nil otherwise.
func (b *Buffer) Sequence(personID int) []model.PoseFrame {
	seq := b.seqs[personID]
	if len(seq) != b.n {
		return nil
	}
	out := make([]model.PoseFrame, b.n)
	copy(out, seq)
	return out
}

// Drop removes the person's buffer, called when the tracker ages the track
// out.
func (b *Buffer) Drop(personID int) {
	delete(b.seqs, personID)
}

// Len reports the current sequence length for a person.
func (b *Buffer) Len(personID int) int {
	return len(b.seqs[personID])
}

// SnapshotAll deep-copies the buffered state for evidence preservation.
func (b *Buffer) SnapshotAll() map[int][]model.PoseFrame {
	out := make(map[int][]model.PoseFrame, len(b.seqs))
	for id, seq := range b.seqs {
		cp := make([]model.PoseFrame, len(seq))
		copy(cp, seq)
		out[id] = cp
	}
	return out
}
