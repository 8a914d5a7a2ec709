package core

import "stmadc/adc"

// SampleQueueSize is the number of samples buffered per input between
// AnalogTask runs.
const SampleQueueSize = 64

// sampleQueue is filled from interrupt context and drained from task
// context, both under the critical section. A full queue drops the new
// sample.
type sampleQueue struct {
	buf     [SampleQueueSize]adc.Sample
	head    uint8 // next read
	count   uint8
	dropped uint32
}

func (q *sampleQueue) push(s adc.Sample) bool {
	if q.count == SampleQueueSize {
		q.dropped++
		return false
	}
	q.buf[(int(q.head)+int(q.count))%SampleQueueSize] = s
	q.count++
	return true
}

func (q *sampleQueue) pop() (adc.Sample, bool) {
	if q.count == 0 {
		return adc.Sample{}, false
	}
	s := q.buf[q.head]
	q.head = uint8((int(q.head) + 1) % SampleQueueSize)
	q.count--
	return s, true
}

func (q *sampleQueue) reset() {
	q.head, q.count = 0, 0
}
