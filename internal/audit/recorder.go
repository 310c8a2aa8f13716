package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/redact"
)

// Recorder wraps a Store so that callers never see persistence failures.
// A Recorder with a nil Store is a valid no-op.
type Recorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

func NewRecorder(store Store, log *zap.Logger, timeout time.Duration) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Recorder{store: store, log: log.Named("audit"), timeout: timeout}
}

// Enabled reports whether a backing store is configured.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// InsertAPISpec stores the spec text and returns its id, or "" on failure.
func (r *Recorder) InsertAPISpec(ctx context.Context, name, specText string) (id string) {
	if !r.Enabled() {
		return ""
	}
	defer r.recoverAs("insert_api_spec", func() { id = "" })
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id, err := r.store.InsertAPISpec(ctx, name, specText)
	if err != nil {
		r.fail("insert_api_spec", err)
		return ""
	}
	return id
}

// InsertVerdict stores the verdict and returns its id, or "" on failure.
func (r *Recorder) InsertVerdict(ctx context.Context, rec VerdictRecord) (id string) {
	if !r.Enabled() {
		return ""
	}
	defer r.recoverAs("insert_verdict", func() { id = "" })
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id, err := r.store.InsertVerdict(ctx, rec)
	if err != nil {
		r.fail("insert_verdict", err)
		return ""
	}
	return id
}

// ActivePolicies returns the active policies, or an empty list on failure.
func (r *Recorder) ActivePolicies(ctx context.Context) (out []Policy) {
	if !r.Enabled() {
		return []Policy{}
	}
	defer r.recoverAs("active_policies", func() { out = []Policy{} })
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	policies, err := r.store.ActivePolicies(ctx)
	if err != nil {
		r.fail("active_policies", err)
		return []Policy{}
	}
	if policies == nil {
		return []Policy{}
	}
	return policies
}

func (r *Recorder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Recorder) fail(op string, err error) {
	r.log.Warn("audit operation failed",
		zap.String("op", op),
		zap.String("error", redact.String(err.Error())),
	)
}

func (r *Recorder) recoverAs(op string, reset func()) {
	if rec := recover(); rec != nil {
		r.log.Error("audit operation panicked",
			zap.String("op", op),
			zap.String("error", redact.Any(rec)),
		)
		reset()
	}
}
