package session

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// SaveFile is the append-only capture described in spec §4.3 and §6:
// every generation's raw checker stdout (teed by internal/runner
// alongside the parsed block stream) and stderr land here, one line
// per raw checker output line, with no block delimiters. spec §5
// requires it be "appended to by a single writer task"; concurrent
// writers here are the stdout tee and the child's stderr pipe copier,
// so Write serialises them through mu rather than spinning up a
// dedicated goroutine neither writer needs.
type SaveFile struct {
	mu   sync.Mutex
	file *os.File
}

// OpenSaveFile creates (truncating any previous contents) the save
// file at path for a fresh session.
func OpenSaveFile(path string) (*SaveFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("session: opening save file: %w", err)
	}
	return &SaveFile{file: f}, nil
}

func (s *SaveFile) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Write(p)
}

// Sync flushes the underlying file to stable storage.
func (s *SaveFile) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close closes the writer handle. Readers (PrintBack) never share it —
// spec §5: "readers ... open their own reader handle".
func (s *SaveFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// PrintBack reopens the save file at path read-only and copies its raw
// contents to w, so checker output remains visible after the TUI
// closes. It copies the whole file: the output of every generation of
// the session, in order, including a generation cut short by a reload;
// the last completed run is not isolated.
func PrintBack(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("session: reopening save file for print-back: %w", err)
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}
