package display

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleDisplay(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf)

	task := d.StartTask("TestTask")
	assert.Contains(t, buf.String(), "[TestTask] started")

	buf.Reset()
	task.SetStage("Download", "/tmp/file")
	task.Progress(50, "Working")
	task.Log("Hello")
	output := buf.String()
	assert.Contains(t, output, "Download /tmp/file")
	assert.NotContains(t, output, "50%", "progress is hidden unless verbose")
	assert.NotContains(t, output, "Hello")

	d.SetVerbose(true)
	buf.Reset()
	task.Progress(50, "Working")
	task.Progress(55, "Working")
	task.Progress(100, "Finished")
	task.Log("Hello")
	output = buf.String()
	assert.Contains(t, output, " 50% Working")
	assert.NotContains(t, output, "55%")
	assert.Contains(t, output, "100% Finished")
	assert.Contains(t, output, "[TestTask] Hello")

	buf.Reset()
	task.Done()
	assert.Equal(t, "[TestTask] done\n", buf.String())
}

func TestRenderTable(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf)
	d.RenderTable(&Table{
		Header: []string{"TAG", "ZIP"},
		Rows:   [][]string{{"v1.2.0", "yes"}, {"v1.10.0-rc.1", "no"}},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "TAG           ZIP"))
	assert.True(t, strings.HasPrefix(lines[1], "---"))
	assert.True(t, strings.HasPrefix(lines[3], "v1.10.0-rc.1  no"))
}

func TestLogTask(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	task := NewLogTask(logger, "fetch")
	task.SetStage("Download", "https://example.com/a.zip")
	task.Progress(10, "1 kB / 10 kB")
	task.Log("retrying later")
	task.Done()

	out := buf.String()
	assert.Contains(t, out, "task=fetch")
	assert.Contains(t, out, "percent=10")
	assert.Contains(t, out, "retrying later")
	assert.Contains(t, out, "stage=Download")

	Discard().Progress(1, "ignored")
}
