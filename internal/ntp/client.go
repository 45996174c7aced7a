// ABOUTME: Network time client
// ABOUTME: Runs timing exchanges against a responder and feeds a Clock
package ntp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Sample is the outcome of one timing exchange
type Sample struct {
	// RTT is the network round trip excluding responder processing
	RTT time.Duration
	// Offset is how far the remote clock is ahead of the local one
	Offset time.Duration
	// T1 to T4 are the exchange timestamps in Unix microseconds
	T1, T2, T3, T4 int64
}

// Query runs one timing exchange against the responder at addr
func Query(ctx context.Context, addr string) (Sample, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(2 * time.Second)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Sample{}, err
	}

	seq := uint16(time.Now().UnixNano())
	sent := time.Now()
	req := Packet{Type: TypeRequest, Sequence: seq, Transmit: FromTime(sent)}
	if _, err := conn.Write(req.Marshal()); err != nil {
		return Sample{}, fmt.Errorf("failed to send timing request: %w", err)
	}

	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return Sample{}, fmt.Errorf("no timing response: %w", err)
		}
		received := time.Now()

		resp, err := Unmarshal(buf[:n])
		if err != nil || resp.Type != TypeResponse || resp.Origin != req.Transmit {
			continue
		}

		t1, t4 := sent.UnixMicro(), received.UnixMicro()
		t2, t3 := resp.Receive.Micros(), resp.Transmit.Micros()
		rtt, offset := CalculateOffset(t1, t2, t3, t4)
		return Sample{
			RTT:    time.Duration(rtt) * time.Microsecond,
			Offset: time.Duration(offset) * time.Microsecond,
			T1:     t1,
			T2:     t2,
			T3:     t3,
			T4:     t4,
		}, nil
	}
}

// Sync queries addr and feeds the exchange into c
func (c *Clock) Sync(ctx context.Context, addr string) (Sample, error) {
	s, err := Query(ctx, addr)
	if err != nil {
		return s, err
	}
	c.Update(s.T1, s.T2, s.T3, s.T4)
	return s, nil
}
