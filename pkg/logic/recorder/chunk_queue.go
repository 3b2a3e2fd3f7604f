package recorder

import "sync"

// ChunkQueue is a FIFO of PCM chunks with a sample cursor into the head
// chunk. Pull always returns exactly n samples, zero-padding past
// end-of-data — that padding is what keeps the stereo timeline glued to
// wall-clock time no matter how unevenly audio arrives.
type ChunkQueue struct {
	mu       sync.Mutex
	chunks   [][]int16
	head     int // consumed samples of chunks[0]
	buffered int
}

func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{}
}

// Push appends a copy of the chunk.
func (q *ChunkQueue) Push(pcm []int16) {
	if len(pcm) == 0 {
		return
	}
	c := make([]int16, len(pcm))
	copy(c, pcm)

	q.mu.Lock()
	q.chunks = append(q.chunks, c)
	q.buffered += len(c)
	q.mu.Unlock()
}

// Pull returns exactly n samples, draining queued chunks first and
// padding the remainder with zeros.
func (q *ChunkQueue) Pull(n int) []int16 {
	out := make([]int16, n)

	q.mu.Lock()
	filled := 0
	for filled < n && len(q.chunks) > 0 {
		chunk := q.chunks[0]
		copied := copy(out[filled:], chunk[q.head:])
		filled += copied
		q.head += copied
		q.buffered -= copied
		if q.head == len(chunk) {
			q.chunks = q.chunks[1:]
			q.head = 0
		}
	}
	q.mu.Unlock()

	return out
}

// Len returns the number of buffered samples.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffered
}
