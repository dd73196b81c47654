package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/elee1766/gorebal/pkg/journal"
	"github.com/elee1766/gorebal/pkg/planner"
	"github.com/elee1766/gorebal/pkg/rsync"
)

// Retry policy for recoverable transfer failures.
const (
	retryBaseDelay   = 2 * time.Second
	retryCapDelay    = 60 * time.Second
	retryMaxAttempts = 3 // total attempts per move
)

// EventKind discriminates engine events.
type EventKind int

const (
	// EventMoveStarted fires when a move's journal record is durable,
	// before pre-validation and the tool spawn.
	EventMoveStarted EventKind = iota
	// EventProgress carries a parsed tool progress update.
	EventProgress
	// EventMoveDone fires when a move reaches a terminal state.
	EventMoveDone
	// EventSnapshot carries the overall run snapshot after each move.
	EventSnapshot
)

// Event is delivered to the subscriber channel during execution.
type Event struct {
	Kind     EventKind
	Move     *planner.Move
	OpID     string
	Progress rsync.Progress
	Err      error
	Snapshot Snapshot
}

// Snapshot summarizes the run so far.
type Snapshot struct {
	Completed  int
	Failed     int
	Total      int
	BytesMoved int64
	BytesTotal int64
	Elapsed    time.Duration
	ETA        time.Duration
}

// Recorder receives transfer outcomes for history storage. Implementations
// must be safe for concurrent use.
type Recorder interface {
	RecordTransfer(opID string, m *planner.Move, start, end time.Time, success bool, errMsg string)
}

// Options configure a transfer engine.
type Options struct {
	MountPrefix string
	Profile     string
	RsyncExtra  []string
	AllowMerge  bool
	MoveTimeout time.Duration
	// MaxWorkers bounds concurrency; 0 means disks/2.
	MaxWorkers int
	// VerifySize enables the post-transfer size equality check.
	VerifySize bool
	// RetryBaseDelay overrides the first retry backoff; 0 means the
	// default policy.
	RetryBaseDelay time.Duration
}

// Engine sequences plan execution: per-move validation, tool invocation,
// classification, retries and disk accounting. Moves on disjoint disk
// pairs run concurrently; the active set always forms a matching on the
// disk graph.
type Engine struct {
	opts    Options
	table   *DiskTable
	store   *journal.Store
	runner  rsync.Runner
	valid   *Validator
	rec     Recorder
	events  chan<- Event
	logger  *slog.Logger
	profile rsync.Profile

	mu   sync.Mutex
	busy map[string]bool
}

// New creates an Engine. The events channel may be nil; Recorder may be nil.
func New(opts Options, table *DiskTable, store *journal.Store, runner rsync.Runner,
	valid *Validator, rec Recorder, events chan<- Event, logger *slog.Logger) (*Engine, error) {

	profile, err := rsync.GetProfile(opts.Profile)
	if err != nil {
		return nil, err
	}
	if opts.MoveTimeout == 0 {
		opts.MoveTimeout = 6 * time.Hour
	}
	return &Engine{
		opts:    opts,
		table:   table,
		store:   store,
		runner:  runner,
		valid:   valid,
		rec:     rec,
		events:  events,
		logger:  logger.With("component", "engine"),
		profile: profile,
		busy:    make(map[string]bool),
	}, nil
}

type moveResult struct {
	move *planner.Move
	err  error
}

// Resume re-runs moves left incomplete by a previous run. The external
// tool skips already-transferred bytes, so re-running is idempotent.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	orphans, err := e.store.Orphans()
	if err != nil {
		return 0, err
	}
	failures := 0
	for _, rec := range orphans {
		m := &planner.Move{
			Share:     rec.Share,
			RelPath:   rec.RelPath,
			SrcDisk:   rec.SrcDisk,
			DestDisk:  rec.DestDisk,
			SizeBytes: rec.SizeBytes,
		}
		e.logger.Info("recovering interrupted move", "op_id", rec.OpID, "unit", rec.Share+"/"+rec.RelPath)
		if err := e.executeMove(ctx, m, rec.OpID); err != nil {
			failures++
			e.logger.Error("recovery move failed", "op_id", rec.OpID, "error", err)
		}
	}
	return failures, nil
}

// Execute runs every move in the plan and returns the final run snapshot;
// per-move errors never abort the run. A canceled context stops new-move
// dispatch and lets in-flight transfers drain.
func (e *Engine) Execute(ctx context.Context, plan *planner.Plan) (Snapshot, error) {
	pending := append([]*planner.Move(nil), plan.Moves...)
	total := len(pending)
	bytesTotal := plan.TotalBytes()

	maxWorkers := e.opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = e.table.Len() / 2
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	start := time.Now()
	results := make(chan moveResult)
	running := 0
	completed, failed := 0, 0
	var bytesMoved int64
	var snap Snapshot

	for len(pending) > 0 || running > 0 {
		if ctx.Err() == nil {
			var rest []*planner.Move
			reserved := e.busySnapshot()
			for _, m := range pending {
				if running < maxWorkers && !reserved[m.SrcDisk] && !reserved[m.DestDisk] {
					e.setBusy(m, true)
					running++
					go func(m *planner.Move) {
						results <- moveResult{move: m, err: e.executeMove(ctx, m, "")}
					}(m)
				} else {
					rest = append(rest, m)
				}
				// Later moves touching these disks must wait so per-disk
				// plan order is preserved.
				reserved[m.SrcDisk] = true
				reserved[m.DestDisk] = true
			}
			pending = rest
		} else if running == 0 {
			e.logger.Warn("execution canceled", "skipped", len(pending))
			break
		}

		if running == 0 {
			continue
		}

		res := <-results
		running--
		e.setBusy(res.move, false)

		if res.err != nil {
			failed++
			e.logger.Error("move failed",
				"unit", res.move.Share+"/"+res.move.RelPath,
				"src", res.move.SrcDisk, "dest", res.move.DestDisk,
				"error", res.err)
		} else {
			completed++
			bytesMoved += res.move.SizeBytes
			if err := e.table.Apply(res.move.SrcDisk, res.move.DestDisk, res.move.SizeBytes); err != nil {
				e.logger.Error("disk accounting update failed", "error", err)
			}
		}

		elapsed := time.Since(start)
		var eta time.Duration
		if bytesMoved > 0 && bytesTotal > bytesMoved {
			rate := float64(bytesMoved) / elapsed.Seconds()
			eta = time.Duration(float64(bytesTotal-bytesMoved)/rate) * time.Second
		}
		snap = Snapshot{
			Completed:  completed,
			Failed:     failed,
			Total:      total,
			BytesMoved: bytesMoved,
			BytesTotal: bytesTotal,
			Elapsed:    elapsed,
			ETA:        eta,
		}
		e.emit(Event{Kind: EventSnapshot, Snapshot: snap})
	}

	snap.Total = total
	snap.Elapsed = time.Since(start)
	return snap, nil
}

// executeMove drives one move through validation, invocation and retries.
// opID is reused when recovering a journaled move; empty means new.
func (e *Engine) executeMove(ctx context.Context, m *planner.Move, opID string) error {
	resumed := opID != ""
	if !resumed {
		opID = uuid.New().String()
	}
	unit := m.Unit()
	rec := &journal.Record{
		OpID:      opID,
		Share:     m.Share,
		RelPath:   m.RelPath,
		SrcDisk:   m.SrcDisk,
		DestDisk:  m.DestDisk,
		SrcPath:   unit.SrcAbs(e.opts.MountPrefix),
		DestPath:  unit.DestAbs(e.opts.MountPrefix, m.DestDisk),
		SizeBytes: m.SizeBytes,
		Status:    journal.StatusStarted,
	}

	startTime := time.Now()
	finish := func(status journal.Status, cause error) error {
		if err := e.store.SetStatus(rec, status); err != nil {
			return err
		}
		if e.rec != nil {
			msg := ""
			if cause != nil {
				msg = cause.Error()
			}
			e.rec.RecordTransfer(opID, m, startTime, time.Now(), status == journal.StatusCompleted, msg)
		}
		e.emit(Event{Kind: EventMoveDone, Move: m, OpID: opID, Err: cause})
		return cause
	}

	// Durability boundary: the move has not started until this record is
	// on disk.
	if err := e.store.Write(rec); err != nil {
		return err
	}
	e.emit(Event{Kind: EventMoveStarted, Move: m, OpID: opID})

	if err := e.valid.Pre(m); err != nil {
		return finish(journal.StatusFailed, err)
	}
	// A resumed move legitimately finds its own partial destination; the
	// tool skips bytes already transferred.
	if !resumed && e.valid.DestExists(m) && !e.opts.AllowMerge {
		return finish(journal.StatusFailed,
			&PreValidationError{Move: m, Reason: "destination exists and merging is disabled"})
	}
	if err := e.valid.EnsureDestParent(m); err != nil {
		return finish(journal.StatusFailed, err)
	}

	srcInfo, err := os.Lstat(rec.SrcPath)
	if err != nil {
		return finish(journal.StatusFailed,
			&PreValidationError{Move: m, Reason: fmt.Sprintf("source vanished: %v", err)})
	}
	args := rsync.BuildArgs(e.profile, e.opts.RsyncExtra, rec.SrcPath, rec.DestPath, srcInfo.IsDir())

	attempt := 0
	timedOut := false
	base := e.opts.RetryBaseDelay
	if base <= 0 {
		base = retryBaseDelay
	}
	backoff := retry.WithMaxRetries(retryMaxAttempts-1,
		retry.WithCappedDuration(retryCapDelay, retry.NewExponential(base)))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		moveCtx, cancel := context.WithTimeout(ctx, e.opts.MoveTimeout)
		defer cancel()

		res, runErr := e.runner.Run(moveCtx, args, func(p rsync.Progress) {
			e.emit(Event{Kind: EventProgress, Move: m, OpID: opID, Progress: p})
		})

		if moveCtx.Err() != nil && ctx.Err() == nil {
			// Soft timeout: the subprocess was terminated. Transient, but
			// worth only a single retry.
			if timedOut {
				return fmt.Errorf("move timed out twice after %s", e.opts.MoveTimeout)
			}
			timedOut = true
			e.logger.Warn("move timed out, retrying once", "op_id", opID, "attempt", attempt)
			return retry.RetryableError(errors.New("move timed out"))
		}
		if ctx.Err() != nil {
			// Run canceled; the subprocess was terminated mid-transfer.
			return ctx.Err()
		}
		if runErr != nil {
			return runErr
		}

		verdict := rsync.Classify(res.ExitCode, res.Stderr)
		if verdict.Success() {
			return nil
		}
		terr := &TransferError{Move: m, ExitCode: res.ExitCode, Verdict: verdict}
		if verdict.Recoverable {
			e.logger.Warn("recoverable transfer failure",
				"op_id", opID, "attempt", attempt, "exit", res.ExitCode, "category", verdict.Category)
			return retry.RetryableError(terr)
		}
		return terr
	})
	if err != nil {
		if ctx.Err() != nil {
			// Aborted, not failed: the journal record stays recoverable so
			// a later run resumes the partial transfer.
			return finish(journal.StatusAborted, err)
		}
		return finish(journal.StatusFailed, err)
	}

	if err := e.valid.Post(m, e.opts.VerifySize); err != nil {
		return finish(journal.StatusFailed, err)
	}
	e.valid.CleanupSource(m)

	return finish(journal.StatusCompleted, nil)
}

// TransferError reports a classified external tool failure.
type TransferError struct {
	Move     *planner.Move
	ExitCode int
	Verdict  rsync.Verdict
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s/%s failed: exit %d (%s/%s): %s",
		e.Move.Share, e.Move.RelPath, e.ExitCode,
		e.Verdict.Severity, e.Verdict.Category, e.Verdict.Detail)
}

func (e *Engine) busySnapshot() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.busy))
	for k, v := range e.busy {
		if v {
			out[k] = true
		}
	}
	return out
}

func (e *Engine) setBusy(m *planner.Move, v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy[m.SrcDisk] = v
	e.busy[m.DestDisk] = v
}

func (e *Engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		// Slow subscribers drop events rather than stall a transfer.
	}
}
