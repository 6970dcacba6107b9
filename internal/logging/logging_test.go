package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/cortex/internal/config"
)

func restore(t *testing.T) {
	t.Helper()
	std := logrus.StandardLogger()
	formatter, level, caller, out := std.Formatter, std.GetLevel(), std.ReportCaller, std.Out
	t.Cleanup(func() {
		logrus.SetFormatter(formatter)
		logrus.SetLevel(level)
		logrus.SetReportCaller(caller)
		logrus.SetOutput(out)
	})
}

func TestSetup_JSON(t *testing.T) {
	restore(t)
	var buf bytes.Buffer

	if err := Setup(config.Log{Level: "debug", Format: config.FormatJSON}, &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logrus.WithField("component", "test").Debug("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["module"] != Module {
		t.Errorf("module = %v, want %s", entry["module"], Module)
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	restore(t)
	var buf bytes.Buffer

	if err := Setup(config.Log{Level: "warn", Format: config.FormatText}, &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logrus.Info("quiet")
	logrus.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info entry should be filtered: %s", out)
	}
	if !strings.Contains(out, "loud") || !strings.Contains(out, "module=cortex") {
		t.Errorf("warn entry missing or unstamped: %s", out)
	}
}

func TestSetup_KeepsCallerModuleField(t *testing.T) {
	restore(t)
	var buf bytes.Buffer

	if err := Setup(config.Log{Level: "info", Format: config.FormatJSON}, &buf); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logrus.WithField("module", "other").Info("clash")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["module"] != Module || entry["fields.module"] != "other" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetup_RejectsBadInput(t *testing.T) {
	restore(t)
	if err := Setup(config.Log{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := Setup(config.Log{Level: "info", Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
