// Package transcript keeps an append-only JSONL copy of every session's messages.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"surveychat/pkg/proto"
)

// Entry is one line of a transcript file.
type Entry struct {
	SessionID string        `json:"session_id"`
	Message   proto.Message `json:"message"`
}

// Recorder appends messages to a session transcript.
type Recorder interface {
	Record(sessionID string, msg proto.Message) error
	Close() error
}

// Writer writes one file per session, switching files when the session changes.
type Writer struct {
	dir         string
	currentFile *os.File
	currentID   string
	mu          sync.Mutex
}

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// PathFor returns the transcript file of sessionID under dir.
func PathFor(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("session-%s.jsonl", unsafeChars.ReplaceAllString(sessionID, "_")))
}

// Record appends msg to the transcript of sessionID and syncs it to disk.
func (w *Writer) Record(sessionID string, msg proto.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.switchIfNeeded(sessionID); err != nil {
		return err
	}

	line, err := json.Marshal(Entry{SessionID: sessionID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.currentFile.Write(line); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript: %w", err)
	}
	return nil
}

func (w *Writer) switchIfNeeded(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if w.currentFile != nil && w.currentID == sessionID {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close transcript %s: %w", w.currentID, err)
		}
		w.currentFile = nil
	}

	path := PathFor(w.dir, sessionID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	w.currentFile = f
	w.currentID = sessionID
	return nil
}

// CurrentFile returns the path of the transcript being written, or "".
func (w *Writer) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return ""
	}
	return PathFor(w.dir, w.currentID)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close transcript: %w", err)
		}
	}
	return nil
}

// Read parses a transcript file.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to parse transcript line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return entries, nil
}

// List returns all transcript files in dir.
func List(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "session-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	return files, nil
}

type nopRecorder struct{}

// Nop returns a recorder that discards messages.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) Record(string, proto.Message) error { return nil }
func (nopRecorder) Close() error                       { return nil }
