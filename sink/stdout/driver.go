package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"mapdispatch/sink"
)

type Config struct {
	// Pretty indents each record.
	Pretty bool `yaml:"pretty"`
}

type driver struct {
	cfg Config

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(_ context.Context, dl sink.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	enc := json.NewEncoder(d.out)
	if d.cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(dl)
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
