package actionlog

import (
	"bufio"
	"errors"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeLayout is the timestamp format of every log line.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Rotation configures the rotating log file.
type Rotation struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type rotatingFile struct {
	mu   sync.Mutex
	path string
	out  *lumberjack.Logger
}

func openRotating(cfg Rotation) (*rotatingFile, error) {
	if cfg.Path == "" {
		return nil, errors.New("actionlog: empty path")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	return &rotatingFile{
		path: cfg.Path,
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

func (f *rotatingFile) writeLine(line []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	_, err := f.out.Write(line)
	return err
}

// readLines returns the non-empty lines of the active file. Rotated backups are not read.
func (f *rotatingFile) readLines() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (f *rotatingFile) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// parseTime accepts the log layout and any RFC 3339 timestamp.
func parseTime(value string) (time.Time, bool) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
