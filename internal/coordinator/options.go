package coordinator

import (
	"time"

	"github.com/crewdev/crew/internal/config"
	"github.com/crewdev/crew/internal/runner"
)

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*coordinatorOptions)

// coordinatorOptions holds all optional configuration.
type coordinatorOptions struct {
	runner      runner.Runner
	store       Store
	archive     Archiver
	logger      *DebugLogger
	clock       func() time.Time
	maxParallel int
	policy      config.TeamPolicy
	signalDir   string
}

// WithRunner sets the collaborator that executes individual tasks.
func WithRunner(r runner.Runner) Option {
	return func(o *coordinatorOptions) { o.runner = r }
}

// WithStore sets the snapshot and run-history store. Required.
func WithStore(s Store) Option {
	return func(o *coordinatorOptions) { o.store = s }
}

// WithArchive sets the long-term ledger for archived tasks and runs.
func WithArchive(a Archiver) Option {
	return func(o *coordinatorOptions) { o.archive = a }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *coordinatorOptions) { o.logger = l }
}

// WithClock sets the time source for run timestamps (mainly for testing).
func WithClock(clock func() time.Time) Option {
	return func(o *coordinatorOptions) { o.clock = clock }
}

// WithMaxParallel overrides the configured concurrency cap.
func WithMaxParallel(n int) Option {
	return func(o *coordinatorOptions) { o.maxParallel = n }
}

// WithPolicy applies a team policy: extra roles, a replacement default
// gate set, and a rework bound for new tasks.
func WithPolicy(p config.TeamPolicy) Option {
	return func(o *coordinatorOptions) { o.policy = p }
}

// WithSignalDir enables the signal watcher on the given directory for
// the duration of each run.
func WithSignalDir(dir string) Option {
	return func(o *coordinatorOptions) { o.signalDir = dir }
}
