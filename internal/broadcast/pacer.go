package broadcast

import "time"

// Pacer implements the broadcaster's wait_for token-bucket-like pacing:
// wait_for += 8·sent_len·1s / bits_per_second after every packet. wait_for
// never moves backward in wall-clock time; if the engine was idle, it is
// fast-forwarded to now before the next packet so a long idle period does
// not cause a burst of immediate sends.
type Pacer struct {
	bitsPerSecond uint32
	waitFor       time.Time
}

// NewPacer returns a Pacer for the given broadcast rate, ready to send
// immediately.
func NewPacer(bitsPerSecond uint32) *Pacer {
	return &Pacer{bitsPerSecond: bitsPerSecond, waitFor: time.Now()}
}

// Delay returns how long the caller should sleep before sending the next
// sentLen-byte packet, and records the pacing advance for sentLen bytes
// already accounted for by the time that sleep elapses.
func (p *Pacer) Delay(now time.Time, sentLen int) time.Duration {
	if p.waitFor.Before(now) {
		p.waitFor = now
	}
	delay := p.waitFor.Sub(now)
	p.waitFor = p.waitFor.Add(time.Duration(8*uint64(sentLen)) * time.Second / time.Duration(p.bitsPerSecond))
	return delay
}
