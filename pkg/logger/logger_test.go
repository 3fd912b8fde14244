package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestTextHandler_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(slog.LevelInfo, &buf, FormatSimple, false))

	l.Info("Task completed", "task_id", "t-1", "note", "two words")
	l.Debug("hidden")
	l.With("agent", "Search Agent").WithGroup("call").Warn("Retrying", "attempt", 2)

	assert.Equal(t,
		"INFO Task completed task_id=t-1 note=\"two words\"\n"+
			"WARN Retrying agent=\"Search Agent\" call.attempt=2\n",
		buf.String())
}

func TestTextHandler_VerboseAndColor(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newHandler(slog.LevelDebug, &buf, FormatVerbose, true))
	l.Error("boom")

	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m boom")
	assert.Regexp(t, `^\d{4}/\d{2}/\d{2} `, out)
}

func TestFilteringHandler_DropsForeignRecordsBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	h := newHandler(slog.LevelInfo, &buf, FormatSimple, false)

	// A record without a caller is kept; one attributed to a foreign PC is not.
	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "kept", 0)))
	assert.Contains(t, buf.String(), "kept")
	assert.False(t, fromModule(reflect.ValueOf(bytes.NewBufferString).Pointer()))
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optica.log")
	f, closeFn, err := OpenLogFile(path)
	require.NoError(t, err)

	Init(slog.LevelInfo, f, FormatJSON)
	slog.Info("to file", "k", "v")
	closeFn()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"to file"`)
	assert.NotNil(t, GetLogger())
}
