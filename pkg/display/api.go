// Package display reports progress of long-running acquisitions.
// Tasks are either rendered on a terminal writer or forwarded to slog.
package display

// Task represents a unit of work that can be monitored.
type Task interface {
	// Log adds a log message associated with this task.
	Log(msg string)
	// SetStage updates the current stage of the task (e.g. "Download", "Extract")
	// and the target file/folder being worked on.
	SetStage(name string, target string)
	// Progress updates the completion percentage (0-100) and status message.
	// A negative percent means the total is unknown.
	Progress(percent int, message string)
	// Done marks the task as completed.
	// It is the responsibility of the caller who created the task via StartTask.
	Done()
}

// Display handles the visualization of tasks and logs.
type Display interface {
	// StartTask creates and returns a new tracked Task.
	StartTask(name string) Task
	// Print adds a primary output message (e.g. table, info) to the display.
	Print(msg string)
	// RenderTable prints rows aligned under the header.
	RenderTable(t *Table)
	// SetVerbose enables or disables progress and log lines.
	SetVerbose(v bool)
}

// Table is a simple column-aligned listing.
type Table struct {
	Header []string
	Rows   [][]string
}

// Discard returns a Task that drops every event.
func Discard() Task { return discardTask{} }

type discardTask struct{}

func (discardTask) Log(string)              {}
func (discardTask) SetStage(string, string) {}
func (discardTask) Progress(int, string)    {}
func (discardTask) Done()                   {}
