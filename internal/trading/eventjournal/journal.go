// Package eventjournal appends execution events to a local JSON-lines file.
// The journal is an audit trail next to Kafka; it is never read on the
// matching path.
package eventjournal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
)

// Config holds configuration for the event journal.
type Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	FilePath     string `mapstructure:"file_path"`
	MaxSizeBytes int64  `mapstructure:"max_size_bytes"`
	MaxBackups   int    `mapstructure:"max_backups"`
}

// DefaultConfig returns a default event journal configuration.
func DefaultConfig() Config {
	return Config{
		FilePath:     "data/journal/events.log",
		MaxSizeBytes: 100 * 1024 * 1024, // 100MB
		MaxBackups:   10,
	}
}

// Entry is one journal line.
type Entry struct {
	WrittenAt time.Time                 `json:"written_at"`
	Event     *execution.ExecutionEvent `json:"event"`
}

// FileJournal writes events to a size-rotated file. It implements
// execution.Publisher.
type FileJournal struct {
	logger *zap.Logger
	config Config

	mu   sync.Mutex
	file *os.File
	size int64
	now  func() time.Time
}

// NewFileJournal opens (or creates) the journal file.
func NewFileJournal(config Config, logger *zap.Logger) (*FileJournal, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("event journal: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &FileJournal{logger: logger, config: config, now: time.Now}
	if err := j.open(); err != nil {
		return nil, err
	}
	logger.Info("Event journal initialized", zap.String("file_path", config.FilePath))
	return j, nil
}

func (j *FileJournal) open() error {
	file, err := os.OpenFile(j.config.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event journal file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file: %w", err)
	}
	j.file = file
	j.size = stat.Size()
	return nil
}

// Publish appends the event as a single line.
func (j *FileJournal) Publish(_ context.Context, event *execution.ExecutionEvent) error {
	line, err := json.Marshal(Entry{WrittenAt: j.now().UTC(), Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("event journal is closed")
	}
	if j.config.MaxSizeBytes > 0 && j.size+int64(len(line)) > j.config.MaxSizeBytes && j.size > 0 {
		if err := j.rotate(); err != nil {
			return err
		}
	}
	n, err := j.file.Write(line)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// rotate must be called with mu held.
func (j *FileJournal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close current journal file: %w", err)
	}
	backupPath := fmt.Sprintf("%s.%s", j.config.FilePath, j.now().UTC().Format("20060102-150405.000000000"))
	if err := os.Rename(j.config.FilePath, backupPath); err != nil {
		return fmt.Errorf("failed to rotate journal file: %w", err)
	}
	if err := j.open(); err != nil {
		return err
	}
	j.logger.Info("Journal file rotated",
		zap.String("old_file", backupPath),
		zap.String("new_file", j.config.FilePath))
	j.cleanupBackups()
	return nil
}

// Backups lists rotated files, oldest first.
func (j *FileJournal) Backups() ([]string, error) {
	dir := filepath.Dir(j.config.FilePath)
	prefix := filepath.Base(j.config.FilePath) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(backups)
	return backups, nil
}

func (j *FileJournal) cleanupBackups() {
	if j.config.MaxBackups <= 0 {
		return
	}
	backups, err := j.Backups()
	if err != nil {
		j.logger.Error("Failed to read journal directory for cleanup", zap.Error(err))
		return
	}
	for len(backups) > j.config.MaxBackups {
		if err := os.Remove(backups[0]); err != nil {
			j.logger.Warn("Failed to remove old journal file", zap.String("file", backups[0]), zap.Error(err))
		}
		backups = backups[1:]
	}
}

// Close flushes and closes the journal file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}

// Replay reads every entry with a sequence number above fromSeq, backups
// first, and calls fn in file order.
func Replay(ctx context.Context, path string, fromSeq uint64, fn func(*execution.ExecutionEvent) error) error {
	j := &FileJournal{config: Config{FilePath: path}}
	files, err := j.Backups()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	files = append(files, path)
	for _, name := range files {
		if err := replayFile(ctx, name, fromSeq, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(ctx context.Context, path string, fromSeq uint64, fn func(*execution.ExecutionEvent) error) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("corrupt journal entry in %s: %w", path, err)
		}
		if entry.Event == nil || entry.Event.SequenceNumber <= fromSeq {
			continue
		}
		if err := fn(entry.Event); err != nil {
			return err
		}
	}
	return scanner.Err()
}
