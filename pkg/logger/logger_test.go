package logger

import (
	"sync"
	"testing"
)

type recorded struct {
	level   string
	message string
	keyvals []any
}

type recorder struct {
	mu      sync.Mutex
	entries []recorded
}

func (r *recorder) add(level, message string, keyvals []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recorded{level: level, message: message, keyvals: keyvals})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchesToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	defer Init()

	Info("[Test] hello", "key", 1)
	Log("[Test] plain", "shard", 2)

	for _, r := range []*recorder{a, b} {
		if len(r.entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(r.entries))
		}
		if r.entries[0].level != "info" || r.entries[0].message != "[Test] hello" {
			t.Fatalf("unexpected first entry %+v", r.entries[0])
		}
		if len(r.entries[1].keyvals) != 2 || r.entries[1].keyvals[1] != 2 {
			t.Fatalf("expected Log to forward keyvals, got %+v", r.entries[1].keyvals)
		}
	}
}

func TestNoBackendsIsSafe(t *testing.T) {
	Init()
	Warn("[Test] dropped")
	Error("[Test] dropped")
}
