// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать чат-хаб и насосы соединений. Уровни: debug, info, warn, error.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// Level is the minimum severity written by the logger.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	prefix   atomic.Value // string
	minLevel atomic.Int32
	ch       chan string
	done     chan struct{}
	once     sync.Once
	out      = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	prefix.Store("")
	minLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

// ParseLevel maps "debug", "info", "warn", "error" to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	return parseLevel(s)
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func startWorker() {
	ch = make(chan string, asyncBufferSize)
	done = make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			out.Print(msg)
		}
	}()
}

func enqueue(lvl Level, msg string) {
	if lvl < Level(minLevel.Load()) {
		return
	}
	once.Do(startWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон: не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "server", "client").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel sets the minimum level from a config string.
func SetLevel(s string) {
	minLevel.Store(int32(parseLevel(s)))
}

// SetOutput redirects the underlying writer. Must be called before the first log line.
func SetOutput(w io.Writer) {
	out = log.New(w, "", log.LstdFlags)
}

// Flush drains pending lines. The logger must not be used afterwards.
func Flush() {
	once.Do(startWorker)
	close(ch)
	<-done
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(LevelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(LevelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(LevelInfo, tag()+fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	enqueue(LevelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(LevelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(LevelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms; на debug все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	lvl := LevelDebug
	if elapsed >= 100*time.Millisecond {
		lvl = LevelInfo
	}
	enqueue(lvl, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("Op", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
