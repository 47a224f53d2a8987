// Package common provides shared logging and error infrastructure for the
// dealgraph services. Logging is built on logrus with intelligent output
// routing: error-level messages are directed to stderr while all other levels
// go to stdout, so containerized deployments can treat the two streams
// differently.
//
// The package exposes a global Logger instance used across all services to
// guarantee uniform formatting and stream separation.
package common

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their severity. It inspects the rendered output for the logrus error-level
// marker rather than parsing the entry, which keeps the writer allocation-free
// and safe for concurrent use.
type OutputSplitter struct{}

// Write implements io.Writer. Lines containing "level=error" go to stderr,
// everything else to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for all dealgraph services.
// It is pre-configured with the OutputSplitter; format and level are
// adjusted at startup from the loaded configuration.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
}

// ConfigureLogger applies level and format settings to the global logger.
// Unknown values fall back to info/text.
func ConfigureLogger(level, format string) {
	switch level {
	case "debug":
		Logger.SetLevel(logrus.DebugLevel)
	case "warn":
		Logger.SetLevel(logrus.WarnLevel)
	case "error":
		Logger.SetLevel(logrus.ErrorLevel)
	default:
		Logger.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
}

// JobLogger returns a logger pre-populated with the fields every job handler
// should carry: job name, job id, org and deal scope, and the trace id used
// for correlating pipeline stages.
func JobLogger(jobName, jobID, orgID, dealID, traceID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"job":      jobName,
		"job_id":   jobID,
		"org_id":   orgID,
		"deal_id":  dealID,
		"trace_id": traceID,
	})
}

// RequestLogger returns a logger carrying standard HTTP request fields.
func RequestLogger(method, path, requestID string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})
}
