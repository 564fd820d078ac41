package kafka

import (
	"context"
	"fmt"
	"slices"

	"github.com/IBM/sarama"

	"mapdispatch/internal/offset"
)

// sessionCommitter writes offsets through a consumer group session.
// MarkOffset only moves forward and ResetOffset only moves back, so both are
// issued to land on exactly the requested offset. A broker-side commit
// failure is not seen here; it arrives on the group's error channel.
type sessionCommitter struct {
	sess sarama.ConsumerGroupSession
}

func (c sessionCommitter) Commit(ctx context.Context, offsets map[offset.Partition]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	claims := c.sess.Claims()
	for p, off := range offsets {
		if !slices.Contains(claims[p.Topic], p.ID) {
			return fmt.Errorf("kafka: partition %s not claimed by member %s", p, c.sess.MemberID())
		}
		c.sess.MarkOffset(p.Topic, p.ID, off, "")
		c.sess.ResetOffset(p.Topic, p.ID, off, "")
	}
	c.sess.Commit()
	return nil
}
