package log

import (
	"fmt"
	"strings"
)

// Field is a key/value pair attached to a scoped log line.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Scope threads a correlation id (such as the per-invocation id the
// identify Orchestrator derives from the start time and the video path)
// and a fixed set of fields through every log call made
// for one operation, so stage boundaries in a concurrent bulk run can be
// told apart in the output without a per-component logger object.
type Scope struct {
	logger *Logger
	corrID string
	fields []Field
}

// Scoped returns a Scope bound to corrID. Pass it down into each
// pipeline stage; call Event at stage start/end/failure.
func (l *Logger) Scoped(corrID string, fields ...Field) *Scope {
	return &Scope{logger: l, corrID: corrID, fields: fields}
}

// With returns a copy of s with extra fields appended.
func (s *Scope) With(fields ...Field) *Scope {
	next := &Scope{logger: s.logger, corrID: s.corrID, fields: make([]Field, 0, len(s.fields)+len(fields))}
	next.fields = append(next.fields, s.fields...)
	next.fields = append(next.fields, fields...)
	return next
}

// Event logs stage at level with any additional fields merged in.
func (s *Scope) Event(level LogLevel, stage string, fields ...Field) {
	var b strings.Builder
	b.WriteString("corr=")
	b.WriteString(s.corrID)
	b.WriteString(" stage=")
	b.WriteString(stage)
	for _, f := range append(append([]Field{}, s.fields...), fields...) {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		b.WriteString(toString(f.Value))
	}
	switch level {
	case LevelDebug:
		s.logger.Debug("%s", b.String())
	case LevelWarn:
		s.logger.Warn("%s", b.String())
	case LevelError:
		s.logger.Error("%s", b.String())
	default:
		s.logger.Info("%s", b.String())
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(t)
	}
}
