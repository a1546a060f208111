package main

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/kstaniek/go-flexcan/internal/can"
	"github.com/kstaniek/go-flexcan/internal/driver"
)

// pollInterval bounds each Select so cancellation is noticed promptly.
const pollInterval = 10 * time.Millisecond

// counterOffset is where the 64-bit big-endian bounce counter sits in the
// payload.
const counterOffset = can.MaxDataLen - 8

// bounceFrame returns a 64-byte frame for id carrying counter.
func bounceFrame(id uint32, counter uint64) can.Frame {
	fr := can.Frame{ID: id & can.CAN_EFF_MASK, Len: can.MaxDataLen}
	binary.BigEndian.PutUint64(fr.Data[counterOffset:], counter)
	return fr
}

func bounceCounter(fr *can.Frame) uint64 {
	return binary.BigEndian.Uint64(fr.Data[counterOffset:])
}

// bounceAdd increments the counter of fr, widening it to a full 64-byte
// frame first so the counter bytes travel.
func bounceAdd(fr *can.Frame) {
	fr.Len = can.MaxDataLen
	binary.BigEndian.PutUint64(fr.Data[counterOffset:], bounceCounter(fr)+1)
}

// send writes fr on the node's instance, waiting for a free transmit buffer
// while the group reports ErrBufferFull.
func (n *node) send(ctx context.Context, fr can.Frame) error {
	for {
		_, err := n.group.Write(n.instance, []can.Frame{fr})
		if !errors.Is(err, driver.ErrBufferFull) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if _, err := n.group.Select(pollInterval, false); err != nil {
			return err
		}
	}
}

// bounce runs the ping-pong loop until ctx is done: every received frame is
// counted, its counter incremented and the frame returned to the peer. A
// kick-starting node sends the first frame with a zero counter. received is
// called after each frame (may be nil).
func (n *node) bounce(ctx context.Context, every int, received func(counter uint64)) error {
	if n.role.kickstart {
		if err := n.send(ctx, bounceFrame(n.role.peer, 0)); err != nil {
			return err
		}
		n.logger.Info("bounce_kickstart", "to", n.role.peer)
	}
	var total, sinceLog int
	for ctx.Err() == nil {
		ready, err := n.group.Select(pollInterval, true)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		fr, ok, err := n.group.Read(n.instance)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		total++
		sinceLog++
		if sinceLog == every {
			sinceLog = 0
			d, _ := n.group.Discarded(n.instance)
			n.logger.Info("bounce_progress", "received", total, "counter", bounceCounter(&fr),
				"rx_at", fr.Timestamp, "discarded", d)
		}
		if received != nil {
			received(bounceCounter(&fr))
		}
		fr.ID = n.role.peer
		bounceAdd(&fr)
		if err := n.send(ctx, fr); err != nil {
			return err
		}
	}
	return nil
}
