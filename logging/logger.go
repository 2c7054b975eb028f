package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger is a minimal logging interface so components don't have to know
// where diagnostic output is going.
type Logger interface {
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (n nullLogger) Printf(message string, args ...interface{}) {}

func NullLogger() Logger { return nullLogger{} }

// ConsoleLogger writes timestamped diagnostic lines to dest. Run output
// (stats lines, summaries) goes to stdout separately; this is only for
// debug-level detail such as individual connection failures.
type ConsoleLogger struct {
	dest io.Writer
	lock sync.Mutex
}

func NewConsoleLogger(dest io.Writer) *ConsoleLogger {
	return &ConsoleLogger{dest: dest}
}

func (l *ConsoleLogger) Printf(message string, args ...interface{}) {
	l.lock.Lock()
	fmt.Fprintf(l.dest, "[%s] %s\n", time.Now().Format(timestampFormat), fmt.Sprintf(message, args...))
	l.lock.Unlock()
}

type CapturedMessage struct {
	Time    time.Time
	Message string
}

type CapturedOutput []CapturedMessage

// CapturingLogger accumulates messages in memory. A long-running harness can
// produce a lot of per-connection noise, so it retains at most maxCaptured of
// the most recent messages.
type CapturingLogger struct {
	output []CapturedMessage
	lock   sync.Mutex
}

const maxCaptured = 1000

func (l *CapturingLogger) Printf(message string, args ...interface{}) {
	l.lock.Lock()
	l.output = append(l.output, CapturedMessage{Time: time.Now(), Message: fmt.Sprintf(message, args...)})
	if len(l.output) > maxCaptured {
		l.output = append([]CapturedMessage(nil), l.output[len(l.output)-maxCaptured:]...)
	}
	l.lock.Unlock()
}

func (l *CapturingLogger) Output() CapturedOutput {
	l.lock.Lock()
	ret := append([]CapturedMessage(nil), l.output...)
	l.lock.Unlock()
	return ret
}

func (output CapturedOutput) Dump(dest io.Writer, prefix string) {
	for _, m := range output {
		fmt.Fprintf(dest, "%s[%s] %s\n",
			prefix,
			m.Time.Format(timestampFormat),
			m.Message,
		)
	}
}
