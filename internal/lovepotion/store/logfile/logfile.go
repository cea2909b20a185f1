// Package logfile keeps a plain-text swipe log, one line per decision:
//
//	[2026-01-02 15:04:05] rfid:deadbeef authorized:True name:alice
//
// Absent fields are omitted. The file is trimmed to the newest MaxLines
// lines.
package logfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

const DefaultMaxLines = 100

const timeLayout = "2006-01-02 15:04:05"

type AuditLog struct {
	path     string
	maxLines int
	loc      *time.Location

	mu    sync.Mutex
	lines []string
}

var _ store.AuditLog = (*AuditLog)(nil)

// Open loads the tail of an existing file at path, creating parent
// directories as needed. maxLines <= 0 uses DefaultMaxLines. Timestamps
// are rendered in loc; nil means local time.
func Open(path string, maxLines int, loc *time.Location) (*AuditLog, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}

	l := &AuditLog{path: path, maxLines: maxLines, loc: loc}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		l.lines = append(l.lines, sc.Text())
		if len(l.lines) > maxLines {
			l.lines = l.lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return l, nil
}

func (l *AuditLog) Append(_ context.Context, rec types.AuditRecord) error {
	line := l.Format(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, line)
	if len(l.lines) > l.maxLines {
		l.lines = append(l.lines[:0:0], l.lines[len(l.lines)-l.maxLines:]...)
		return l.rewriteLocked()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	return f.Close()
}

// LastLines returns the retained lines, oldest first, newline-terminated.
func (l *AuditLog) LastLines() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) == 0 {
		return ""
	}
	return strings.Join(l.lines, "\n") + "\n"
}

// Format renders rec as one log line without the trailing newline.
func (l *AuditLog) Format(rec types.AuditRecord) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(rec.Timestamp.In(l.loc).Format(timeLayout))
	sb.WriteString("]")

	field := func(k, v string) {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(v)
	}
	admin := rec.Action == types.ActionAddUser || rec.Action == types.ActionRemoveUser
	if admin {
		field("action", rec.Action)
		if rec.Actor != nil {
			field("admin", *rec.Actor)
		}
	}
	if rec.CredentialID != nil {
		field("rfid", *rec.CredentialID)
	}
	if rec.Authorized != nil {
		field("authorized", pyBool(*rec.Authorized))
	}
	if rec.Principal != nil {
		field("name", *rec.Principal)
	}
	if rec.Actor != nil && !admin {
		field("user", *rec.Actor)
	}
	if rec.Action == types.ActionRemoteOpen {
		field("unlock", pyBool(rec.Reason != types.ReasonUnlockFailed))
	}
	if rec.Reason != "" && rec.Reason != types.ReasonCardAllowed && rec.Reason != types.ReasonCardNotAllowed &&
		rec.Reason != types.ReasonRemoteOpen {
		field("reason", rec.Reason)
	}
	return sb.String()
}

// pyBool keeps existing log files readable by the tools that parse them.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (l *AuditLog) rewriteLocked() error {
	tmp := l.path + ".tmp"
	body := strings.Join(l.lines, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("rewrite audit log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rewrite audit log: %w", err)
	}
	return nil
}
