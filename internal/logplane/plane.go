// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logplane owns every on-disk log the orchestrator writes: the
// rotating ambient orchestrator log, one append-only communication
// journal per instance, a daily audit journal, and a raw scrollback
// capture log per instance. Every journal record is newline-terminated
// and flushed on write, so a crash can truncate at most the last line.
package logplane

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Plane owns the orchestrator's four journal kinds. Writes to each
// journal are serialized by that journal's own mutex (see
// journalWriter); there is no writer goroutine.
type Plane struct {
	logRoot string
	Log     zerolog.Logger // ambient orchestrator log

	mu       sync.Mutex
	comms    map[string]*journalWriter // instance id -> communication.jsonl writer
	captures map[string]*journalWriter // instance id -> tmux_output.log writer
	audit    *journalWriter
	auditDay string
}

// New creates a Plane rooted at logRoot, opening the rotating ambient
// log immediately. logRoot is created if it does not exist. maxSizeMB
// caps the ambient log's size before rotation and maxBackups bounds
// how many rotated files are kept; zero values fall back to 10 MB and
// 5 backups.
func New(logRoot string, level zerolog.Level, maxSizeMB, maxBackups int) (*Plane, error) {
	if err := os.MkdirAll(logRoot, 0755); err != nil {
		return nil, fmt.Errorf("create log root: %w", err)
	}

	if maxSizeMB == 0 {
		maxSizeMB = 10
	}
	if maxBackups == 0 {
		maxBackups = 5
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logRoot, "orchestrator.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     30, // days
		Compress:   true,
	}

	logger := zerolog.New(rotator).Level(level).With().Timestamp().Logger()

	p := &Plane{
		logRoot:  logRoot,
		Log:      logger,
		comms:    make(map[string]*journalWriter),
		captures: make(map[string]*journalWriter),
	}

	return p, nil
}

// journalWriter owns one append-only file. A mutex serializes writers so
// concurrent callers never interleave partial records; every record is
// flushed to disk before writeLine returns, trading a little latency for
// durability on the communication and audit journals.
type journalWriter struct {
	mu   sync.Mutex
	file *os.File
}

func newJournalWriter(path string) (*journalWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &journalWriter{file: f}, nil
}

func (w *journalWriter) writeLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.WriteString(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		if _, err := w.file.WriteString("\n"); err != nil {
			return err
		}
	}
	return w.file.Sync()
}

func (w *journalWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// CommunicationRecord is one entry in an instance's communication
// journal: every message sent to or received from that instance.
type CommunicationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`     // "sent" | "received"
	Direction string    `json:"direction"` // "inbound" | "outbound"
	MessageID string    `json:"message_id"`
	FromID    string    `json:"from_id,omitempty"`
	ToID      string    `json:"to_id,omitempty"`
	Body      string    `json:"body"`

	// Exchange accounting, set on "received" records: estimated token
	// count, estimated cost, and seconds between send and reply.
	Tokens       int     `json:"tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	ResponseTime float64 `json:"response_time,omitempty"`
}

// AppendCommunication appends rec to the named instance's communication
// journal, creating the journal on first use.
func (p *Plane) AppendCommunication(instanceID string, rec CommunicationRecord) error {
	w, err := p.commWriter(instanceID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.writeLine(string(data))
}

func (p *Plane) commWriter(instanceID string) (*journalWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.comms[instanceID]; ok {
		return w, nil
	}

	path := filepath.Join(p.logRoot, "instances", instanceID, "communication.jsonl")
	w, err := newJournalWriter(path)
	if err != nil {
		return nil, fmt.Errorf("open communication journal for %s: %w", instanceID, err)
	}
	p.comms[instanceID] = w
	return w, nil
}

// AppendRawCapture appends a raw scrollback line to the named instance's
// tmux_output.log: each captured line the caller passes, including ones
// the transcript parser could not classify, so a post-mortem can replay
// exactly what the parser saw.
func (p *Plane) AppendRawCapture(instanceID, line string) error {
	p.mu.Lock()
	w, ok := p.captures[instanceID]
	p.mu.Unlock()

	if !ok {
		path := filepath.Join(p.logRoot, "instances", instanceID, "tmux_output.log")
		var err error
		w, err = newJournalWriter(path)
		if err != nil {
			return fmt.Errorf("open raw capture log for %s: %w", instanceID, err)
		}
		p.mu.Lock()
		p.captures[instanceID] = w
		p.mu.Unlock()
	}

	return w.writeLine(line)
}

// AuditRecord is one entry in the daily audit journal: every
// orchestrator-level action taken against an instance or the
// coordination layer, independent of any single instance's own journal.
type AuditRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	ActorID   string                 `json:"actor_id,omitempty"`
	TargetID  string                 `json:"target_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// AppendAudit appends rec to today's audit journal, rolling to a new
// file at UTC midnight.
func (p *Plane) AppendAudit(rec AuditRecord) error {
	w, err := p.auditWriter(rec.Timestamp)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return w.writeLine(string(data))
}

func (p *Plane) auditWriter(ts time.Time) (*journalWriter, error) {
	day := ts.UTC().Format("20060102")

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audit != nil && p.auditDay == day {
		return p.audit, nil
	}

	if p.audit != nil {
		_ = p.audit.close()
	}

	path := filepath.Join(p.logRoot, "audit", fmt.Sprintf("audit-%s.jsonl", day))
	w, err := newJournalWriter(path)
	if err != nil {
		return nil, fmt.Errorf("open audit journal for %s: %w", day, err)
	}

	p.audit = w
	p.auditDay = day
	return w, nil
}

// ReadCommunication returns up to limit of the most recent records in
// an instance's communication journal, oldest first. limit <= 0 means
// all of them. A missing journal reads as empty, not as an error: an
// instance that has never exchanged a message has nothing to report.
func (p *Plane) ReadCommunication(instanceID string, limit int) ([]CommunicationRecord, error) {
	path := filepath.Join(p.logRoot, "instances", instanceID, "communication.jsonl")
	lines, err := tailLines(path, limit)
	if err != nil {
		return nil, err
	}

	records := make([]CommunicationRecord, 0, len(lines))
	for _, line := range lines {
		var rec CommunicationRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadAudit returns up to limit of the most recent records in the audit
// journal for the given day (UTC, "20060102" format; empty means
// today), oldest first.
func (p *Plane) ReadAudit(day string, limit int) ([]AuditRecord, error) {
	if day == "" {
		day = time.Now().UTC().Format("20060102")
	}
	path := filepath.Join(p.logRoot, "audit", fmt.Sprintf("audit-%s.jsonl", day))
	lines, err := tailLines(path, limit)
	if err != nil {
		return nil, err
	}

	records := make([]AuditRecord, 0, len(lines))
	for _, line := range lines {
		var rec AuditRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadRawCapture returns up to limit of the most recent lines in an
// instance's raw scrollback capture log, oldest first. This is how
// get_output keeps answering after the instance's pane is gone.
func (p *Plane) ReadRawCapture(instanceID string, limit int) ([]string, error) {
	path := filepath.Join(p.logRoot, "instances", instanceID, "tmux_output.log")
	return tailLines(path, limit)
}

// tailLines reads the last limit non-empty lines of path, oldest first.
// A missing file reads as no lines.
func tailLines(path string, limit int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}

// Close flushes and closes every open journal.
func (p *Plane) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.comms {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, w := range p.captures {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.audit != nil {
		if err := p.audit.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
