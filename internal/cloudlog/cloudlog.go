// Package cloudlog provides the structured logger used throughout
// cursor-runner: a local stderr logger, optionally fronting a real GCP
// Cloud Logging client. This realizes the spec's "logging transport" as an
// external collaborator (§1 Out of scope) — the rest of the service only
// calls Logger, never knows whether entries leave the box.
//
// Adapted from the teacher's internal/cloud/gcp/logging.go, which declared
// cloud.google.com/go/logging as a dependency but only ever wrote
// structured JSON to stderr by hand. Here the GCP-backed implementation
// actually drives the SDK client when a project ID is configured.
package cloudlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	gcplogging "cloud.google.com/go/logging"
)

// Severity mirrors the levels the supervisor and review loop emit at.
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Logger is the structured logging sink used across the service. Every
// structured observation the Process Supervisor is required to emit
// (spawn record, host-key-prompt record, heartbeat, terminal record) goes
// through this interface.
type Logger interface {
	Log(severity Severity, message string, fields map[string]any)
	Info(message string, fields ...any)
	Warn(message string, fields ...any)
	Error(message string, fields ...any)
	Close() error
}

// stderrLogger writes newline-delimited structured JSON to an io.Writer,
// matching the local half of the teacher's CloudLogger.
type stderrLogger struct {
	w         io.Writer
	component string
	mu        sync.Mutex
	local     *log.Logger
}

// NewStderrLogger returns a Logger that writes JSON lines to stderr only.
// Used whenever no GCP project is configured — the normal case outside of
// production deployment.
func NewStderrLogger(component string) Logger {
	return &stderrLogger{
		w:         os.Stderr,
		component: component,
		local:     log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *stderrLogger) Log(severity Severity, message string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := map[string]any{
		"severity":  severity,
		"message":   message,
		"component": l.component,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		entry[k] = v
	}
	b, err := json.Marshal(entry)
	if err != nil {
		l.local.Printf("%s: %s (fields marshal failed: %v)", severity, message, err)
		return
	}
	fmt.Fprintln(l.w, string(b))
}

func fieldsFromPairs(pairs []any) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	fields := make(map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		fields[key] = pairs[i+1]
	}
	return fields
}

func (l *stderrLogger) Info(message string, fields ...any) {
	l.Log(SeverityInfo, message, fieldsFromPairs(fields))
}

func (l *stderrLogger) Warn(message string, fields ...any) {
	l.Log(SeverityWarning, message, fieldsFromPairs(fields))
}

func (l *stderrLogger) Error(message string, fields ...any) {
	l.Log(SeverityError, message, fieldsFromPairs(fields))
}

func (l *stderrLogger) Close() error { return nil }

// gcpLogger fronts the stderr logger with a real Cloud Logging client;
// every entry is written locally and mirrored to Cloud Logging.
type gcpLogger struct {
	local  Logger
	client *gcplogging.Client
	logger *gcplogging.Logger
}

// NewGCPLogger constructs a Logger backed by a real cloud.google.com/go/logging
// client for the given project. Returns an error if the client cannot be
// constructed (e.g. no ambient credentials) — callers should fall back to
// NewStderrLogger rather than fail startup, mirroring the spec's tolerance
// for an unavailable external logging transport.
func NewGCPLogger(ctx context.Context, projectID, logID, component string) (Logger, error) {
	client, err := gcplogging.NewClient(ctx, "projects/"+projectID)
	if err != nil {
		return nil, fmt.Errorf("cloudlog: creating GCP logging client: %w", err)
	}
	return &gcpLogger{
		local:  NewStderrLogger(component),
		client: client,
		logger: client.Logger(logID),
	}, nil
}

func severityToGCP(s Severity) gcplogging.Severity {
	switch s {
	case SeverityDebug:
		return gcplogging.Debug
	case SeverityWarning:
		return gcplogging.Warning
	case SeverityError:
		return gcplogging.Error
	default:
		return gcplogging.Info
	}
}

func (l *gcpLogger) Log(severity Severity, message string, fields map[string]any) {
	l.local.Log(severity, message, fields)
	payload := map[string]any{"message": message}
	for k, v := range fields {
		payload[k] = v
	}
	l.logger.Log(gcplogging.Entry{
		Severity: severityToGCP(severity),
		Payload:  payload,
		Timestamp: time.Now(),
	})
}

func (l *gcpLogger) Info(message string, fields ...any) {
	l.Log(SeverityInfo, message, fieldsFromPairs(fields))
}

func (l *gcpLogger) Warn(message string, fields ...any) {
	l.Log(SeverityWarning, message, fieldsFromPairs(fields))
}

func (l *gcpLogger) Error(message string, fields ...any) {
	l.Log(SeverityError, message, fieldsFromPairs(fields))
}

func (l *gcpLogger) Close() error {
	err := l.logger.Flush()
	if cerr := l.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
