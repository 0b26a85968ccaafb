package logger

import "sync"

// Entry is a single captured log line.
type Entry struct {
	Level  string
	Msg    string
	Fields []Field
}

// Recorder captures log entries in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Info(msg string, fields ...Field)  { r.add("info", msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.add("warn", msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.add("error", msg, fields) }
func (r *Recorder) Debug(msg string, fields ...Field) { r.add("debug", msg, fields) }
func (r *Recorder) Fatal(msg string, fields ...Field) { r.add("fatal", msg, fields) }

// With shares the underlying entry slice with the parent recorder.
func (r *Recorder) With(fields ...Field) Logger {
	base := make([]Field, len(fields))
	copy(base, fields)
	return &recorderChild{parent: r, base: base}
}

func (r *Recorder) add(level, msg string, fields []Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Field, len(fields))
	copy(cp, fields)
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Fields: cp})
}

// Entries returns a copy of the captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns the number of entries at level whose message equals msg.
func (r *Recorder) Count(level, msg string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && e.Msg == msg {
			n++
		}
	}
	return n
}

type recorderChild struct {
	parent *Recorder
	base   []Field
}

func (c *recorderChild) Info(msg string, fields ...Field) {
	c.parent.add("info", msg, c.merge(fields))
}

func (c *recorderChild) Warn(msg string, fields ...Field) {
	c.parent.add("warn", msg, c.merge(fields))
}

func (c *recorderChild) Error(msg string, fields ...Field) {
	c.parent.add("error", msg, c.merge(fields))
}

func (c *recorderChild) Debug(msg string, fields ...Field) {
	c.parent.add("debug", msg, c.merge(fields))
}

func (c *recorderChild) Fatal(msg string, fields ...Field) {
	c.parent.add("fatal", msg, c.merge(fields))
}

func (c *recorderChild) With(fields ...Field) Logger {
	return &recorderChild{parent: c.parent, base: c.merge(fields)}
}

func (c *recorderChild) merge(fields []Field) []Field {
	out := make([]Field, 0, len(c.base)+len(fields))
	out = append(out, c.base...)
	return append(out, fields...)
}
