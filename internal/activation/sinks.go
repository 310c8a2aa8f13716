package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/straja-ai/apiguard/internal/audit"
)

// SinkSpec describes one configured sink.
type SinkSpec struct {
	Type    string // file_jsonl | webhook | audit
	Path    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// OpenSinks builds one sink per spec. If any spec fails, the sinks already
// opened are closed before the error is returned.
func OpenSinks(specs []SinkSpec, recorder *audit.Recorder) ([]Sink, error) {
	return openSinks(specs, func(spec SinkSpec) (Sink, error) {
		return openSink(spec, recorder)
	})
}

func openSinks(specs []SinkSpec, open func(SinkSpec) (Sink, error)) ([]Sink, error) {
	sinks := make([]Sink, 0, len(specs))
	for i, spec := range specs {
		sink, err := open(spec)
		if err != nil {
			err = fmt.Errorf("activation.sinks[%d]: %w", i, err)
			if closeErr := CloseSinks(context.Background(), sinks); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func openSink(spec SinkSpec, recorder *audit.Recorder) (Sink, error) {
	switch spec.Type {
	case "file_jsonl":
		s, err := NewFileSink(spec.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "webhook":
		s, err := NewWebhookSink(spec.URL, spec.Headers, spec.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "audit":
		s, err := NewAuditSink(recorder)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown type %q", spec.Type)
	}
}

// CloseSinks closes every sink and joins their errors.
func CloseSinks(ctx context.Context, sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
