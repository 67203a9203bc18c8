package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("upload complete", "upload_id", "u1", "size", 42)

	line := buf.String()
	if !strings.Contains(line, "[INFO]") {
		t.Errorf("missing level marker: %q", line)
	}
	if !strings.Contains(line, "upload complete") {
		t.Errorf("missing message: %q", line)
	}
	if !strings.Contains(line, "upload_id=u1") || !strings.Contains(line, "size=42") {
		t.Errorf("missing fields: %q", line)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("region created", "shm_name", "r1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "region created" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["shm_name"] != "r1" {
		t.Errorf("shm_name = %v", record["shm_name"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, "visible error") {
		t.Errorf("expected levels missing: %q", out)
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISE")

	Info("still at info")
	if !strings.Contains(buf.String(), "still at info") {
		t.Error("invalid SetLevel changed the effective level")
	}
}

func TestWithBindsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	l := With("shm_name", "bound")
	l.Info("bound message")

	if !strings.Contains(buf.String(), "shm_name=bound") {
		t.Errorf("pre-bound field missing: %q", buf.String())
	}
}
