package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"
)

// LogSeverity is the severity of one log buffer entry, per §3's
// log buffer model.
type LogSeverity string

const (
	SeverityInfo  LogSeverity = "info"
	SeverityError LogSeverity = "error"
)

// LogEntry is one append-only line in a session's log buffer: (timestamp,
// producer name, severity, text), per §3. Index is assigned on append and
// is what stream consumers track to satisfy P1 (a consumer's last-seen
// index never decreases; a reconnect resumes from it).
type LogEntry struct {
	Index    int
	At       time.Time
	Producer string
	Severity LogSeverity
	Text     string
}

// LogSignal is what activities send back to the workflow that owns a
// session to append a raw streamed line — sandbox stdout/stderr, an agent
// chunk, a throttle-retry notice — without round-tripping through
// ExecuteActivity. Structured step entries ("starting stage: analyze") are
// appended directly by workflow code instead, since that already runs on
// the workflow goroutine that owns the buffer.
type LogSignal struct {
	Producer string
	Severity LogSeverity
	Text     string
}

const logSignalName = "log_entry"

// logBuffer is the queryable, single-writer log state of §4.8.4's
// streaming discipline, grounded on internal/state/state.go's
// SetQueryHandler-plus-signal-channel shape: a "logs" query lets stream
// consumers read the current buffer; a dedicated coroutine drains the
// log_entry signal channel so activities can append concurrently with the
// workflow's own ExecuteActivity sequence without blocking either side.
type logBuffer struct {
	entries []LogEntry
}

func (b *logBuffer) append(at time.Time, producer string, severity LogSeverity, text string) {
	b.entries = append(b.entries, LogEntry{
		Index:    len(b.entries),
		At:       at,
		Producer: producer,
		Severity: severity,
		Text:     text,
	})
}

// attachLogBuffer registers the "logs" query handler and the signal-drain
// coroutine for the calling workflow, and returns a function workflow code
// can call directly (on the workflow goroutine, no signal round trip) to
// append its own structured step entries.
func attachLogBuffer(ctx workflow.Context) func(producer string, severity LogSeverity, text string) {
	buf := &logBuffer{}
	_ = workflow.SetQueryHandler(ctx, "logs", func() ([]LogEntry, error) {
		return buf.entries, nil
	})

	sigCh := workflow.GetSignalChannel(ctx, logSignalName)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var sig LogSignal
			sigCh.Receive(gctx, &sig)
			buf.append(workflow.Now(gctx), sig.Producer, sig.Severity, sig.Text)
		}
	})

	return func(producer string, severity LogSeverity, text string) {
		buf.append(workflow.Now(ctx), producer, severity, text)
	}
}
