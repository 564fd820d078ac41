package kafka

import (
	"context"
	"time"

	"mapdispatch/internal/offset"
)

// Delivery is one consumed record handed to the pipeline. Commits is the
// coordinator of the consumer session the record belongs to; Deadline is
// when the partition's next commit is due.
type Delivery struct {
	Partition offset.Partition
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Deadline  time.Time
	Commits   *offset.Coordinator
}

// HandleFunc processes one delivery. Records of a partition are handed over
// one at a time; a returned error ends the consumer session.
type HandleFunc func(context.Context, Delivery) error

type Adapter interface {
	Configure(Config) error
	Run(context.Context, HandleFunc) error
	Close() error
}
