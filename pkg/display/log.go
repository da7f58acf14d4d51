package display

import (
	"log/slog"
)

// NewLogTask returns a Task that forwards events to logger.
// Progress is logged at debug level; stages and messages at info.
func NewLogTask(logger *slog.Logger, name string) Task {
	if logger == nil {
		logger = slog.Default()
	}
	return &logTask{logger: logger.With("task", name)}
}

type logTask struct {
	logger *slog.Logger
	stage  string
}

func (t *logTask) Log(msg string) {
	t.logger.Info(msg, "stage", t.stage)
}

func (t *logTask) SetStage(name string, target string) {
	t.stage = name
	t.logger.Debug("Stage", "stage", name, "target", target)
}

func (t *logTask) Progress(percent int, message string) {
	t.logger.Debug("Progress", "stage", t.stage, "percent", percent, "status", message)
}

func (t *logTask) Done() {
	t.logger.Debug("Task done")
}
