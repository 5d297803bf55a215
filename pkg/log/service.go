package log

import (
	"fmt"
	"io"
	"os"

	config "github.com/mwantia/imghost/internal/config/server"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService
}

type LoggerServiceImpl struct {
	cfg    config.LogServerConfig
	name   string
	level  LogLevel
	logger zerolog.Logger
}

func NewLoggerService(name string, cfg config.LogServerConfig) LoggerService {
	impl := &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
	}

	impl.logger = impl.newLogger(impl.setupWriter())
	return impl
}

// NewWriterLoggerService logs to w only; used by commands that print to a buffer.
func NewWriterLoggerService(name string, cfg config.LogServerConfig, w io.Writer) LoggerService {
	impl := &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
	}

	if !cfg.JSON {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: cfg.TimeFormat}
	}
	impl.logger = impl.newLogger(w)
	return impl
}

// NewNopLoggerService discards everything.
func NewNopLoggerService() LoggerService {
	return &LoggerServiceImpl{
		level:  Fatal + 1,
		logger: zerolog.Nop(),
	}
}

func (impl *LoggerServiceImpl) setupWriter() io.Writer {
	var writers []io.Writer

	if !impl.cfg.NoTerminal {
		writers = append(writers, impl.format(os.Stdout, impl.cfg.NoColor))
	}

	if impl.cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   impl.cfg.File,
			MaxSize:    impl.cfg.Rotation.MaxSize,
			MaxBackups: impl.cfg.Rotation.MaxBackups,
			MaxAge:     impl.cfg.Rotation.MaxAge,
			Compress:   impl.cfg.Rotation.Compress,
		}
		writers = append(writers, impl.format(fileWriter, true))
	}

	if len(writers) == 0 {
		writers = append(writers, impl.format(os.Stdout, impl.cfg.NoColor))
	}

	return zerolog.MultiLevelWriter(writers...)
}

func (impl *LoggerServiceImpl) format(w io.Writer, noColor bool) io.Writer {
	if impl.cfg.JSON {
		return w
	}

	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: impl.cfg.TimeFormat,
	}
}

func (impl *LoggerServiceImpl) newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(impl.level.zerolog()).
		With().
		Timestamp().
		Logger()
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	event := impl.logger.WithLevel(level.zerolog())
	if impl.name != "" {
		event = event.Str("service", impl.name)
	}
	event.Msgf(msg, args...)

	if level == Fatal {
		os.Exit(1)
	}
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	named := name
	if impl.name != "" {
		named = fmt.Sprintf("%s/%s", impl.name, name)
	}

	return &LoggerServiceImpl{
		cfg:    impl.cfg,
		name:   named,
		level:  impl.level,
		logger: impl.logger, // Share the same writer
	}
}
