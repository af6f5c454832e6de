package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/crytic/invfuzz/logging/colors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// GlobalLogger describes a Logger that is disabled by default and is instantiated when the fuzzer is created. Each
// package should create its own sub-logger so that log output can be filtered by service.
var GlobalLogger = NewLogger(zerolog.Disabled)

// Logger describes a custom logging object that can log events to any arbitrary channel in structured, unstructured,
// or unstructured-and-colorized format.
type Logger struct {
	// level describes the log level
	level zerolog.Level

	// context describes the key-value pairs attached to every event emitted by this logger.
	context []contextField

	// structuredLogger describes a logger that outputs JSON to structuredWriters.
	structuredLogger zerolog.Logger

	// structuredWriters describes the writers which receive structured (JSON) output.
	structuredWriters []io.Writer

	// unstructuredLogger describes a logger that outputs plain text to unstructuredWriters.
	unstructuredLogger zerolog.Logger

	// unstructuredWriters describes the writers which receive plain, non-colorized text.
	unstructuredWriters []io.Writer

	// unstructuredColorLogger describes a logger that outputs ANSI colorized text to unstructuredColorWriters.
	unstructuredColorLogger zerolog.Logger

	// unstructuredColorWriters describes the writers which receive colorized text (typically the console).
	unstructuredColorWriters []io.Writer

	// writersLock guards the writer lists when they are updated while other goroutines log.
	writersLock sync.Mutex
}

// contextField is a single key-value pair attached to a sub-logger.
type contextField struct {
	key   string
	value string
}

// LogFormat describes what format to log in
type LogFormat string

const (
	// STRUCTURED describes that logging should be done in structured JSON format
	STRUCTURED LogFormat = "structured"
	// UNSTRUCTURED describes that logging should be done in an unstructured format
	UNSTRUCTURED LogFormat = "unstructured"
)

// StructuredLogInfo describes a key-value mapping that can be used to log structured data
type StructuredLogInfo map[string]any

// NewLogger will create a new Logger object with a specific log level. Writers are added afterwards with AddWriter.
func NewLogger(level zerolog.Level) *Logger {
	logger := &Logger{
		level:                    level,
		structuredWriters:        make([]io.Writer, 0),
		unstructuredWriters:      make([]io.Writer, 0),
		unstructuredColorWriters: make([]io.Writer, 0),
	}
	logger.rebuild()
	return logger
}

// NewSubLogger will create a new Logger with unique context in the form of a key-value pair. The expected use of this
// function is for each package to have their own unique logger so that parsing of logs is "grep-able" based on some key
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	l.writersLock.Lock()
	defer l.writersLock.Unlock()

	subLogger := &Logger{
		level:                    l.level,
		context:                  append(slices.Clone(l.context), contextField{key: key, value: value}),
		structuredWriters:        slices.Clone(l.structuredWriters),
		unstructuredWriters:      slices.Clone(l.unstructuredWriters),
		unstructuredColorWriters: slices.Clone(l.unstructuredColorWriters),
	}
	subLogger.rebuild()
	return subLogger
}

// AddWriter will add a writer to the list of channels where log output will be sent. The colored flag is only
// meaningful for unstructured output.
func (l *Logger) AddWriter(writer io.Writer, format LogFormat, colored bool) {
	l.writersLock.Lock()
	defer l.writersLock.Unlock()

	target := l.writerList(format, colored)
	if slices.Contains(*target, writer) {
		return
	}
	*target = append(*target, writer)
	l.rebuild()
}

// RemoveWriter will remove a writer from the list of writers that the logger manages. If the writer does not exist,
// this function is a no-op
func (l *Logger) RemoveWriter(writer io.Writer, format LogFormat, colored bool) {
	l.writersLock.Lock()
	defer l.writersLock.Unlock()

	target := l.writerList(format, colored)
	if idx := slices.Index(*target, writer); idx >= 0 {
		*target = slices.Delete(*target, idx, idx+1)
		l.rebuild()
	}
}

// writerList returns a pointer to the writer list which matches the provided format and coloring.
func (l *Logger) writerList(format LogFormat, colored bool) *[]io.Writer {
	if format == STRUCTURED {
		return &l.structuredWriters
	}
	if colored {
		return &l.unstructuredColorWriters
	}
	return &l.unstructuredWriters
}

// rebuild recreates the underlying zerolog loggers from the current writer lists, level and context.
func (l *Logger) rebuild() {
	l.structuredLogger = l.withContext(zerolog.New(zerolog.MultiLevelWriter(l.structuredWriters...)).With().Timestamp()).Level(l.level)

	plainWriters := make([]io.Writer, len(l.unstructuredWriters))
	for i, w := range l.unstructuredWriters {
		plainWriters[i] = setupDefaultFormatting(zerolog.ConsoleWriter{Out: w, NoColor: true}, l.level)
	}
	l.unstructuredLogger = l.withContext(zerolog.New(zerolog.MultiLevelWriter(plainWriters...)).With()).Level(l.level)

	colorWriters := make([]io.Writer, len(l.unstructuredColorWriters))
	for i, w := range l.unstructuredColorWriters {
		colorWriters[i] = setupDefaultFormatting(zerolog.ConsoleWriter{Out: w, NoColor: !colors.Enabled()}, l.level)
	}
	l.unstructuredColorLogger = l.withContext(zerolog.New(zerolog.MultiLevelWriter(colorWriters...)).With()).Level(l.level)
}

// withContext appends the logger's context fields to a zerolog context and returns the resulting logger.
func (l *Logger) withContext(ctx zerolog.Context) zerolog.Logger {
	for _, field := range l.context {
		ctx = ctx.Str(field.key, field.value)
	}
	return ctx.Logger()
}

// Level will get the log level of the Logger
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel will update the log level of the Logger
func (l *Logger) SetLevel(level zerolog.Level) {
	l.writersLock.Lock()
	defer l.writersLock.Unlock()
	l.level = level
	l.rebuild()
}

// Trace is a wrapper function that will log a trace event
func (l *Logger) Trace(args ...any) {
	l.log(zerolog.TraceLevel, args...)
}

// Debug is a wrapper function that will log a debug event
func (l *Logger) Debug(args ...any) {
	l.log(zerolog.DebugLevel, args...)
}

// Info is a wrapper function that will log an info event
func (l *Logger) Info(args ...any) {
	l.log(zerolog.InfoLevel, args...)
}

// Warn is a wrapper function that will log a warning event
func (l *Logger) Warn(args ...any) {
	l.log(zerolog.WarnLevel, args...)
}

// Error is a wrapper function that will log an error event.
func (l *Logger) Error(args ...any) {
	l.log(zerolog.ErrorLevel, args...)
}

// Panic is a wrapper function that will log a panic event
func (l *Logger) Panic(args ...any) {
	l.log(zerolog.PanicLevel, args...)
}

// log builds the messages for every output format and sends them off at the provided level.
func (l *Logger) log(level zerolog.Level, args ...any) {
	coloredMsg, plainMsg, err, info := buildMsgs(args...)

	structuredLog := l.structuredLogger.WithLevel(level)
	unstructuredLog := l.unstructuredLogger.WithLevel(level)
	colorLog := l.unstructuredColorLogger.WithLevel(level)

	// Stack traces are only attached when debugging, or when we are about to panic.
	withStack := level == zerolog.PanicLevel || l.level <= zerolog.DebugLevel
	for _, event := range []*zerolog.Event{structuredLog, unstructuredLog, colorLog} {
		chainErrorAndInfo(event, err, info, withStack)
	}

	// The structured event is deferred so that a panic log still reaches every channel.
	defer structuredLog.Msg(plainMsg)
	unstructuredLog.Msg(plainMsg)
	colorLog.Msg(coloredMsg)

	if level == zerolog.PanicLevel {
		panic(plainMsg)
	}
}

// buildMsgs describes a function that takes in a variadic list of arguments of any type and returns two strings and,
// optionally, an error and a StructuredLogInfo object. The first string will be a colorized-string that can be used for
// console logging while the second string will be a non-colorized one that can be used for file/structured logging.
// The error and the StructuredLogInfo can be used to add additional context to log messages
func buildMsgs(args ...any) (string, string, error, StructuredLogInfo) {
	// Guard clause
	if len(args) == 0 {
		return "", "", nil, nil
	}

	// Initialize the base color context, the string buffers and the structured log info object
	colorCtx := colors.Reset
	consoleOutput := make([]string, 0)
	fileOutput := make([]string, 0)
	var info StructuredLogInfo
	var err error

	// Iterate through each argument in the list and switch on type
	for _, arg := range args {
		switch t := arg.(type) {
		case colors.ColorFunc:
			// If the argument is a color function, switch the current color context
			colorCtx = t
		case StructuredLogInfo:
			// Note that only one structured log info can be provided for each log message
			info = t
		case error:
			// Note that only one error can be provided for each log message
			err = t
		default:
			// In the base case, append the object to the two string buffers. The console string buffer will have the
			// current color context applied to it.
			consoleOutput = append(consoleOutput, colorCtx(t))
			fileOutput = append(fileOutput, fmt.Sprintf("%v", t))
		}
	}

	return strings.Join(consoleOutput, ""), strings.Join(fileOutput, ""), err, info
}

// chainErrorAndInfo attaches an error (and optionally its stack) and structured info to a log event.
func chainErrorAndInfo(event *zerolog.Event, err error, info StructuredLogInfo, withStack bool) {
	if err != nil {
		event.Err(err)
		if withStack {
			event.Stack()
		}
	}
	if info != nil {
		event.Any("info", info)
	}
}

// setupDefaultFormatting will update the console logger's formatting to the standard console layout
func setupDefaultFormatting(writer zerolog.ConsoleWriter, level zerolog.Level) zerolog.ConsoleWriter {
	// Get rid of the timestamp for console output
	writer.FormatTimestamp = func(i interface{}) string {
		return ""
	}

	// We will define a custom format for each level
	writer.FormatLevel = func(i any) string {
		levelStr, _ := i.(string)
		parsedLevel, err := zerolog.ParseLevel(levelStr)
		if err != nil {
			return levelStr
		}

		colorize := func(f colors.ColorFunc, s string) string {
			if writer.NoColor {
				return s
			}
			return f(s)
		}

		switch parsedLevel {
		case zerolog.TraceLevel:
			return colorize(colors.CyanBold, zerolog.LevelTraceValue)
		case zerolog.DebugLevel:
			return colorize(colors.BlueBold, zerolog.LevelDebugValue)
		case zerolog.InfoLevel:
			return colorize(colors.GreenBold, colors.LEFT_ARROW)
		case zerolog.WarnLevel:
			return colorize(colors.YellowBold, zerolog.LevelWarnValue)
		case zerolog.ErrorLevel:
			return colorize(colors.RedBold, zerolog.LevelErrorValue)
		case zerolog.FatalLevel:
			return colorize(colors.RedBold, zerolog.LevelFatalValue)
		case zerolog.PanicLevel:
			return colorize(colors.RedBold, zerolog.LevelPanicValue)
		default:
			return levelStr
		}
	}

	// Above debug level, the service component is noise on the console.
	if level > zerolog.DebugLevel {
		writer.FieldsExclude = []string{"service"}
	}

	return writer
}
