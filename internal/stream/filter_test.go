package stream

import (
	"context"
	"strings"
	"testing"
	"time"
)

func feedAll(f *TagFilter, chunks []string) string {
	var out strings.Builder
	for _, c := range chunks {
		out.WriteString(f.Feed(c))
	}
	out.WriteString(f.Flush())
	return out.String()
}

func TestTagFilterHidesToolCall(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{`Hello <tool_call>{"name":"read_file","arguments":{}}</tool_call> World`})
	if got != "Hello  World" {
		t.Errorf("visible = %q, want %q", got, "Hello  World")
	}
	if !strings.Contains(f.Raw(), "<tool_call>") {
		t.Error("raw text should retain the markup for the parser")
	}
}

func TestTagFilterCharAtATime(t *testing.T) {
	input := `Hello <tool_call>{"name":"x"}</tool_call> World`
	f := NewTagFilter()
	var chunks []string
	for _, r := range input {
		chunks = append(chunks, string(r))
	}
	got := feedAll(f, chunks)
	if got != "Hello  World" {
		t.Errorf("visible = %q, want %q", got, "Hello  World")
	}
}

func TestTagFilterChunkingInvariance(t *testing.T) {
	input := `a<think>secret</think>b <|tool_call|>{"name":"t"}<|/tool_call|> c<tool`
	whole := feedAll(NewTagFilter(), []string{input})

	for size := 1; size <= 7; size++ {
		var chunks []string
		for i := 0; i < len(input); i += size {
			end := i + size
			if end > len(input) {
				end = len(input)
			}
			chunks = append(chunks, input[i:end])
		}
		got := feedAll(NewTagFilter(), chunks)
		if got != whole {
			t.Errorf("chunk size %d: visible = %q, want %q", size, got, whole)
		}
	}
}

func TestTagFilterStrayAngleBracket(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{"a < b and <div>html</div>"})
	if got != "a < b and <div>html</div>" {
		t.Errorf("visible = %q, stray < must pass through", got)
	}
}

func TestTagFilterHeldPrefixFlushes(t *testing.T) {
	// A marker prefix at end of stream is ordinary text.
	f := NewTagFilter()
	got := feedAll(f, []string{"trailing <tool"})
	if got != "trailing <tool" {
		t.Errorf("visible = %q, want %q", got, "trailing <tool")
	}
}

func TestTagFilterCaseInsensitive(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{"x[TOOL_CALL]{}[/TOOL_CALL]y"})
	if got != "xy" {
		t.Errorf("visible = %q, want %q", got, "xy")
	}
}

func TestTagFilterMultibyteTextUnchanged(t *testing.T) {
	// Characters whose lowercase form has a different byte length must pass
	// through byte-for-byte around and between markers.
	input := "İİİ<think>secret</think>visible"
	want := "İİİvisible"

	if got := feedAll(NewTagFilter(), []string{input}); got != want {
		t.Errorf("whole: visible = %q, want %q", got, want)
	}

	for size := 1; size <= 5; size++ {
		var chunks []string
		for i := 0; i < len(input); i += size {
			end := i + size
			if end > len(input) {
				end = len(input)
			}
			chunks = append(chunks, input[i:end])
		}
		if got := feedAll(NewTagFilter(), chunks); got != want {
			t.Errorf("chunk size %d: visible = %q, want %q", size, got, want)
		}
	}
}

func TestTagFilterMultibyteAroundMixedCaseMarkers(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{"İ<Think>ponder</THINK>ğüş"})
	if got != "İğüş" {
		t.Errorf("visible = %q, want %q", got, "İğüş")
	}
}

func TestTagFilterUnclosedMarkerStaysHidden(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{`before <tool_call>{"name":"x"`})
	if got != "before " {
		t.Errorf("visible = %q, want %q", got, "before ")
	}
	if !f.Swallowing() {
		t.Error("filter should still be inside the marker")
	}
}

func TestTagFilterEmptyInput(t *testing.T) {
	f := NewTagFilter()
	if got := feedAll(f, nil); got != "" {
		t.Errorf("visible = %q, want empty", got)
	}
}

func TestTagFilterThinkSuppressed(t *testing.T) {
	f := NewTagFilter()
	got := feedAll(f, []string{"<think>pondering</think>answer"})
	if got != "answer" {
		t.Errorf("visible = %q, want %q", got, "answer")
	}
}

func TestWatchdogExpires(t *testing.T) {
	w, ctx := NewWatchdog(context.Background(), 20*time.Millisecond)
	defer w.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	if !w.Expired() {
		t.Error("Expired() should be true after firing")
	}
}

func TestWatchdogResetDefers(t *testing.T) {
	w, ctx := NewWatchdog(context.Background(), 60*time.Millisecond)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Reset()
	}
	select {
	case <-ctx.Done():
		t.Fatal("watchdog fired despite resets")
	default:
	}
}

func TestEstimator(t *testing.T) {
	var e Estimator
	e.Observe(strings.Repeat("x", 35))
	if got := e.Tokens(); got != 10 {
		t.Errorf("Tokens() = %d, want 10", got)
	}
}
