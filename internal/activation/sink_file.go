package activation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events to a JSONL file, one event per line.
type FileSink struct {
	path string

	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("file_jsonl: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("file_jsonl: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("file_jsonl: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &FileSink{path: path, f: f, buf: buf, enc: enc}, nil
}

func (s *FileSink) Name() string { return "file_jsonl:" + s.path }

// Deliver writes ev as one line and flushes, so a crash loses at most the
// event being written.
func (s *FileSink) Deliver(_ context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("file_jsonl: sink closed")
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("file_jsonl: encode: %w", err)
	}
	return s.buf.Flush()
}

func (s *FileSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	flushErr := s.buf.Flush()
	closeErr := s.f.Close()
	s.f = nil
	return errors.Join(flushErr, closeErr)
}
