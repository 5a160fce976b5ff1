package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
	Dir         string `mapstructure:"dir"`
}

// NewLogger constructs a zerolog logger from config. When Dir is set the
// output goes to a file named after the current date inside it, switching
// files when the date changes.
func NewLogger(cfg Config) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = parsed
	}

	out, err := logOutput(cfg.Dir, time.Now)
	if err != nil {
		return zerolog.Nop(), err
	}

	logger := zerolog.New(logWriter(cfg, out)).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger(), nil
}

// FileName returns the dated log file name used for day.
func FileName(day time.Time) string {
	return day.Format("2006-01-02") + ".log"
}

func logOutput(dir string, now func() time.Time) (io.Writer, error) {
	if dir == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &dailyFile{dir: dir, now: now}
	if err := w.rotate(FileName(now())); err != nil {
		return nil, err
	}
	return w, nil
}

// dailyFile appends to <dir>/<date>.log and reopens on the first write of a
// new day.
type dailyFile struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	name string
	file *os.File
}

func (w *dailyFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if name := FileName(w.now()); name != w.name {
		if err := w.rotate(name); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *dailyFile) rotate(name string) error {
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.name = name
	w.file = f
	return nil
}

func logWriter(cfg Config, out io.Writer) io.Writer {
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    out != os.Stdout,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}
