// Package upload transfers batches of files to the function endpoint one at
// a time, in submission order. A failing file never stops the batch: every
// task yields exactly one Result.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/filehub-go/internal/transport"
)

// ErrSessionAbsent refuses a batch submitted while no session is known.
var ErrSessionAbsent = errors.New("please sign in first")

// Task is one file submitted for upload. Open is called only when the task
// is transferred.
type Task struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// Result is the outcome of one Task. Exactly one of RemoteID and
// ErrorMessage is set, matching OK. MetadataError reports a failed side
// record and never changes OK.
type Result struct {
	TaskName      string `json:"name"`
	OK            bool   `json:"ok"`
	RemoteID      string `json:"file_id,omitempty"`
	ErrorMessage  string `json:"error,omitempty"`
	MetadataError string `json:"metadata_error,omitempty"`
	Size          int64  `json:"size,omitempty"`
	Err           error  `json:"-"`
}

// BatchReport holds one Result per Task in submission order, or a single
// synthetic failure when the batch was refused.
type BatchReport struct {
	BatchID string   `json:"batch_id"`
	Results []Result `json:"results"`
	Refused bool     `json:"refused,omitempty"`
}

// Succeeded counts the successful results.
func (b BatchReport) Succeeded() int {
	n := 0

	for _, r := range b.Results {
		if r.OK {
			n++
		}
	}

	return n
}

// Failed counts the failed results.
func (b BatchReport) Failed() int {
	return len(b.Results) - b.Succeeded()
}

// Record is the side record kept for a successful upload.
type Record struct {
	BatchID    string
	FileName   string
	FileID     string
	FileSize   int64
	UploadedAt time.Time
}

// Gate reports whether a session is currently known.
type Gate interface {
	SessionKnown(ctx context.Context) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context) bool

// SessionKnown implements Gate.
func (f GateFunc) SessionKnown(ctx context.Context) bool { return f(ctx) }

// Recorder persists side records. Failures are reported, never fatal.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Performer runs a transport operation. Satisfied by *transport.Selector.
type Performer interface {
	Perform(ctx context.Context, op transport.Operation) (*transport.Response, error)
}

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
	Gate   Gate
	// Recorder may be nil: no side records are kept.
	Recorder Recorder
	// Refresh runs once after every non-refused batch.
	Refresh func(ctx context.Context)
	// Limiter may be nil: unlimited.
	Limiter *BandwidthLimiter
	// MaxFileSize rejects larger tasks before transfer. Zero disables it.
	MaxFileSize int64
	// OnStart is called before a non-refused batch with its size.
	OnStart func(n int)
	// OnResult is called after each task.
	OnResult func(index int, r Result)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator uploads batches sequentially.
type Orchestrator struct {
	transport   Performer
	logger      *slog.Logger
	gate        Gate
	recorder    Recorder
	refresh     func(ctx context.Context)
	limiter     *BandwidthLimiter
	maxFileSize int64
	onStart     func(n int)
	onResult    func(index int, r Result)
	now         func() time.Time
}

// NewOrchestrator creates an Orchestrator over t.
func NewOrchestrator(t Performer, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		transport:   t,
		logger:      logger,
		gate:        opts.Gate,
		recorder:    opts.Recorder,
		refresh:     opts.Refresh,
		limiter:     opts.Limiter,
		maxFileSize: opts.MaxFileSize,
		onStart:     opts.OnStart,
		onResult:    opts.OnResult,
		now:         now,
	}
}

// UploadBatch uploads tasks in order and returns one Result per task. When
// no session is known the batch is refused with ErrSessionAbsent and nothing
// is transferred. Otherwise the refresh runs once after the report is built,
// even when every task failed.
func (o *Orchestrator) UploadBatch(ctx context.Context, tasks []Task) (BatchReport, error) {
	report := BatchReport{BatchID: uuid.NewString()}

	if o.gate != nil && !o.gate.SessionKnown(ctx) {
		o.logger.Warn("upload refused, no session", slog.Int("files", len(tasks)))

		report.Refused = true
		report.Results = []Result{{ErrorMessage: ErrSessionAbsent.Error(), Err: ErrSessionAbsent}}

		return report, ErrSessionAbsent
	}

	o.logger.Info("uploading batch",
		slog.String("batch_id", report.BatchID),
		slog.Int("files", len(tasks)),
	)

	if o.onStart != nil {
		o.onStart(len(tasks))
	}

	report.Results = make([]Result, 0, len(tasks))

	for i, task := range tasks {
		res := o.uploadOne(ctx, report.BatchID, task)
		report.Results = append(report.Results, res)

		if o.onResult != nil {
			o.onResult(i, res)
		}
	}

	o.logger.Info("batch complete",
		slog.String("batch_id", report.BatchID),
		slog.Int("succeeded", report.Succeeded()),
		slog.Int("failed", report.Failed()),
	)

	if o.refresh != nil {
		o.refresh(ctx)
	}

	return report, nil
}

// uploadOne transfers a single task. Every failure is captured in the Result.
func (o *Orchestrator) uploadOne(ctx context.Context, batchID string, task Task) Result {
	logger := o.logger.With(slog.String("name", task.Name))

	fail := func(err error) Result {
		logger.Warn("upload failed", slog.String("error", err.Error()))
		return Result{TaskName: task.Name, Size: task.Size, ErrorMessage: err.Error(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("upload canceled: %w", err))
	}

	if o.maxFileSize > 0 && task.Size > o.maxFileSize {
		return fail(fmt.Errorf("file is %d bytes, larger than max_file_size %d", task.Size, o.maxFileSize))
	}

	if task.Open == nil {
		return fail(errors.New("no content to upload"))
	}

	rc, err := task.Open()
	if err != nil {
		return fail(fmt.Errorf("opening content: %w", err))
	}
	defer rc.Close()

	resp, err := o.transport.Perform(ctx, transport.Operation{
		Kind:    transport.KindUpload,
		Name:    task.Name,
		Content: o.limiter.WrapReader(ctx, rc),
		Size:    task.Size,
	})
	if err != nil {
		return fail(err)
	}

	if !resp.OK {
		msg := resp.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("upload rejected (HTTP %d)", resp.Status)
		}

		return fail(errors.New(msg))
	}

	desc, err := ExtractID(resp.Body)
	if err != nil {
		logger.Debug("upload response without identifier", slog.String("raw", string(resp.Raw)))
		return fail(err)
	}

	res := Result{TaskName: task.Name, OK: true, RemoteID: desc.ID, Size: task.Size}

	logger.Info("uploaded", slog.String("file_id", desc.ID))

	if o.recorder == nil {
		return res
	}

	rec := Record{
		BatchID:    batchID,
		FileName:   task.Name,
		FileID:     desc.ID,
		FileSize:   task.Size,
		UploadedAt: o.now(),
	}

	if desc.Name != "" {
		rec.FileName = desc.Name
	}

	if desc.Size > 0 {
		rec.FileSize = desc.Size
	}

	if err := o.recorder.Record(ctx, rec); err != nil {
		logger.Warn("side record failed", slog.String("error", err.Error()))
		res.MetadataError = err.Error()
	}

	return res
}
