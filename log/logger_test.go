package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/aipfs/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_AttemptFields(t *testing.T) {
	prior := "attempt-0"
	meta := &types.AttemptMeta{
		AttemptID: "attempt-1",
		Account:   "0xabc",
		ChainID:   137,
		Attempt:   2,
		ResumeOf:  &prior,
	}
	var buf bytes.Buffer
	l := NewLoggerWithWriter(meta, &buf, zapcore.DebugLevel)
	l.Info("fee paid", map[string]any{"tx_id": "0x01"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	e := lines[0]
	if e["message"] != "fee paid" || e["level"] != "info" {
		t.Errorf("entry = %v", e)
	}
	if e["attempt_id"] != "attempt-1" || e["account"] != "0xabc" || e["resume_of"] != "attempt-0" {
		t.Errorf("context fields = %v", e)
	}
	if e["chain_id"] != float64(137) || e["attempt"] != float64(2) {
		t.Errorf("numeric fields = %v", e)
	}
	fields, _ := e["fields"].(map[string]any)
	if fields["tx_id"] != "0x01" {
		t.Errorf("fields = %v", e["fields"])
	}
	if _, ok := e["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestLogger_WithOutputKeepsContext(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLoggerWithWriter(&types.AttemptMeta{AttemptID: "a", Attempt: 1}, &first, zapcore.DebugLevel).
		With(map[string]any{"stage": "uploading"})
	l.WithOutput(&second).Warn("retry", nil)

	if first.Len() != 0 {
		t.Errorf("original writer got output: %s", first.String())
	}
	lines := decodeLines(t, &second)
	if len(lines) != 1 || lines[0]["attempt_id"] != "a" || lines[0]["stage"] != "uploading" {
		t.Errorf("lines = %v", lines)
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(nil, &buf, zapcore.WarnLevel)
	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Error("shown", nil)
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "shown" {
		t.Errorf("lines = %v", lines)
	}
}

func TestSugar(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(nil, &buf, zapcore.DebugLevel)
	l.Sugar().With("k", "v").Infof("uploaded %d files", 2)
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "uploaded 2 files" || lines[0]["k"] != "v" {
		t.Errorf("lines = %v", lines)
	}
}

func TestNop(t *testing.T) {
	Nop().Error("dropped", map[string]any{"x": 1})
}
