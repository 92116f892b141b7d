package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/efebarandurmaz/semmed/internal/predication"
)

// JSONL writes one JSON document per line.
type JSONL struct {
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONL opens path for writing. "-" or "" writes to stdout.
func NewJSONL(path string) (*JSONL, error) {
	if path == "" || path == "-" {
		return newJSONL(os.Stdout, nil), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create jsonl output: %w", err)
	}
	return newJSONL(f, f), nil
}

// NewJSONLWriter writes to w. Close flushes but does not close w.
func NewJSONLWriter(w io.Writer) *JSONL {
	return newJSONL(w, nil)
}

func newJSONL(w io.Writer, c io.Closer) *JSONL {
	buf := bufio.NewWriterSize(w, 1<<16)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONL{buf: buf, enc: enc, closer: c}
}

func (s *JSONL) Write(ctx context.Context, docs []predication.Document) error {
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(&docs[i]); err != nil {
			return fmt.Errorf("encode %s: %w", docs[i].ID, err)
		}
	}
	return nil
}

func (s *JSONL) Close(_ context.Context) error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl output: %w", err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ Sink = (*JSONL)(nil)
