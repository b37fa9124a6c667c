package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Journal appends one timestamped line per operation to a text file so a
// partially completed run can still be inspected.
type Journal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
	log  zerolog.Logger
}

// NewJournal creates a journal that writes to path.
func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure journal dir: %w", err)
	}
	return &Journal{path: path, now: time.Now, log: zerolog.Nop()}, nil
}

// WithLogger sets the logger that reports entries the journal could not
// write. Append never fails the caller.
func (j *Journal) WithLogger(log zerolog.Logger) *Journal {
	if j != nil {
		j.log = log
	}
	return j
}

// Path returns the file backing this journal.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Append writes a single entry. A nil journal ignores the call.
func (j *Journal) Append(stepID string, op Operation) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	kind := string(op.Kind)
	if op.Label != "" {
		kind += "/" + op.Label
	}
	line := fmt.Sprintf("%s %-8s %s %s %s\n",
		j.now().UTC().Format(time.RFC3339),
		strings.ToUpper(kind),
		stepID,
		op.Path,
		strings.TrimSpace(op.Description),
	)
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		j.log.Warn().Err(err).Str("journal", j.path).Str("step", stepID).Msg("journal entry dropped")
		return
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		j.log.Warn().Err(err).Str("journal", j.path).Str("step", stepID).Msg("journal entry dropped")
	}
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries.
func (j *Journal) Tail(maxLines int) ([]string, int) {
	if j == nil || maxLines <= 0 {
		return nil, 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, total
}
