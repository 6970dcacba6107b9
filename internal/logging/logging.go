// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/cortex/internal/config"
)

// Module is stamped on every entry under FieldModule.
const (
	Module      = "cortex"
	FieldModule = "module"
)

// Setup installs the formatter, level and caller reporting from cfg on the
// standard logger and directs output to out. The MCP transport owns stdout,
// so callers pass stderr or a file.
func Setup(cfg config.Log, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	var inner logrus.Formatter
	switch cfg.Format {
	case config.FormatJSON:
		inner = &logrus.JSONFormatter{}
	case config.FormatText, "":
		inner = &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
	default:
		return fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	logrus.SetFormatter(&moduleFormatter{inner: inner})
	logrus.SetLevel(level)
	logrus.SetReportCaller(cfg.ReportCaller)
	logrus.SetOutput(out)
	return nil
}

// moduleFormatter adds the module field before delegating. A field of the
// same name set by the caller is kept under "fields.module".
type moduleFormatter struct {
	inner logrus.Formatter
}

func (f *moduleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	data := make(logrus.Fields, len(entry.Data)+1)
	for k, v := range entry.Data {
		data[k] = v
	}
	if v, ok := data[FieldModule]; ok {
		data["fields."+FieldModule] = v
	}
	data[FieldModule] = Module

	e := *entry
	e.Data = data
	return f.inner.Format(&e)
}
