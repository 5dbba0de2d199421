package sink

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cerndb/hbase-packet-inspector/pkg/hbase"
)

// Stdout prints events as JSON lines for debugging.
type Stdout struct{}

// NewStdout creates a stdout sink.
func NewStdout() *Stdout {
	return &Stdout{}
}

// Emit prints one event.
func (s *Stdout) Emit(ev *hbase.Event) error {
	return s.print(ev.Fields())
}

// EmitSub prints a per-action row tagged with its kind.
func (s *Stdout) EmitSub(kind string, ev *hbase.Event) error {
	fields := ev.Fields()
	fields["kind"] = kind
	return s.print(fields)
}

func (s *Stdout) print(fields map[string]any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stdout, "%s\n", b)
	return err
}

// Close is a no-op for stdout.
func (s *Stdout) Close() error {
	return nil
}
