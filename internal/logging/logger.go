package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"carelog/internal/config"
)

const permission = 0o664

// Builder assembles a zerolog.Logger from a writer, an optional log file and a level.
type Builder struct {
	writer  io.Writer
	path    string
	level   zerolog.Level
	console bool
}

// Output is the result of Builder.Make. LogFile is nil unless a path was given.
type Output struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

func New() *Builder {
	return &Builder{writer: os.Stdout, level: zerolog.InfoLevel}
}

func (b *Builder) FromPath(path string) *Builder {
	b.path = path
	return b
}

func (b *Builder) FromWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

func (b *Builder) Console(enabled bool) *Builder {
	b.console = enabled
	return b
}

// Level parses a level name; unknown names keep the current level.
func (b *Builder) Level(name string) *Builder {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && lvl != zerolog.NoLevel {
		b.level = lvl
	}
	return b
}

func (b *Builder) Make() (*Output, error) {
	out := &Output{}
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.LogFile = f
		w = zerolog.SyncWriter(f)
	} else if b.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	out.Logger = zerolog.New(w).Level(b.level).With().Timestamp().Logger()
	return out, nil
}

// Close releases the log file if one was opened.
func (o *Output) Close() error {
	if o.LogFile == nil {
		return nil
	}
	return o.LogFile.Close()
}

// FromConfig builds the application logger.
func FromConfig(cfg *config.Config) (*Output, error) {
	return New().
		FromPath(cfg.LogPath).
		Console(cfg.LogFormat == "console").
		Level(cfg.LogLevel).
		Make()
}

// Nop returns a logger that discards everything. Used by tests and optional collaborators.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
