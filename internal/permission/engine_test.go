package permission

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type stubApprover struct {
	outcome Outcome
	calls   int
}

func (a *stubApprover) Approve(toolName string, risk RiskLevel, args json.RawMessage) Outcome {
	a.calls++
	return a.outcome
}

// slowApprover tracks how many prompts run concurrently.
type slowApprover struct {
	outcome Outcome

	mu      sync.Mutex
	active  int
	maxSeen int
	calls   int
}

func (a *slowApprover) Approve(toolName string, risk RiskLevel, args json.RawMessage) Outcome {
	a.mu.Lock()
	a.active++
	if a.active > a.maxSeen {
		a.maxSeen = a.active
	}
	a.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	a.mu.Lock()
	a.active--
	a.calls++
	a.mu.Unlock()
	return a.outcome
}

func mustPatterns(t *testing.T, rules ...string) []Pattern {
	t.Helper()
	ps, err := ParsePatterns(rules)
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func TestDenyWinsOverEverything(t *testing.T) {
	cfg := Config{
		AutoApproveAll: true,
		AlwaysApprove:  []string{"bash"},
		AllowPatterns:  mustPatterns(t, "Bash(*)"),
		DenyPatterns:   mustPatterns(t, "Bash(rm -rf *)"),
	}
	e := NewEngine(cfg, &stubApprover{outcome: Approved})
	e.ApproveForSession("bash")

	args := json.RawMessage(`{"command":"rm -rf /tmp/x"}`)
	if e.Check("bash", RiskDangerous, args) {
		t.Error("deny pattern must win over allow, auto-approve, always-approve and session grants")
	}
	if !e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`)) {
		t.Error("non-matching command should be allowed by the allow pattern")
	}
}

func TestDisabledDeniesFirst(t *testing.T) {
	cfg := Config{Disabled: []string{"Bash"}, AutoApproveAll: true}
	e := NewEngine(cfg, nil)
	if e.Check("bash", RiskReadOnly, json.RawMessage(`{}`)) {
		t.Error("disabled tool must be denied, case-insensitively")
	}
}

func TestAllowPatternMatches(t *testing.T) {
	cfg := Config{AllowPatterns: mustPatterns(t, "read_file(/home/**)")}
	e := NewEngine(cfg, nil)
	if !e.Check("read_file", RiskReadOnly, json.RawMessage(`{"path":"/home/u/a.go"}`)) {
		t.Error("allow pattern with ** should match nested path")
	}
	if e.Check("read_file", RiskReadOnly, json.RawMessage(`{"path":"/etc/passwd"}`)) {
		t.Error("non-matching path falls through to default deny")
	}
}

func TestSingleStarDoesNotCrossPathSeparator(t *testing.T) {
	cfg := Config{AllowPatterns: mustPatterns(t, "read_file(/home/*)")}
	e := NewEngine(cfg, nil)
	if !e.Check("read_file", RiskReadOnly, json.RawMessage(`{"path":"/home/a.go"}`)) {
		t.Error("* should match a single path element")
	}
	if e.Check("read_file", RiskReadOnly, json.RawMessage(`{"path":"/home/u/a.go"}`)) {
		t.Error("* must not cross a path separator")
	}
}

func TestRiskAutoApproval(t *testing.T) {
	e := NewEngine(Config{AutoApproveReadOnly: true}, nil)
	if !e.Check("grep", RiskReadOnly, json.RawMessage(`{}`)) {
		t.Error("read-only tool should be auto-approved")
	}
	if e.Check("edit_file", RiskModerate, json.RawMessage(`{}`)) {
		t.Error("moderate tool should not be auto-approved without AutoApproveModerate")
	}

	e = NewEngine(Config{AutoApproveModerate: true}, nil)
	if !e.Check("edit_file", RiskModerate, json.RawMessage(`{}`)) {
		t.Error("moderate tool should be auto-approved with AutoApproveModerate")
	}
	if e.Check("bash", RiskDangerous, json.RawMessage(`{}`)) {
		t.Error("dangerous tool must never be risk-auto-approved")
	}
}

func TestApproveAllRemembersForSession(t *testing.T) {
	approver := &stubApprover{outcome: ApproveAll}
	e := NewEngine(Config{}, approver)

	if !e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`)) {
		t.Fatal("first check should prompt and approve")
	}
	if !e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"pwd"}`)) {
		t.Fatal("second check should hit the session grant")
	}
	if approver.calls != 1 {
		t.Errorf("approver called %d times, want 1", approver.calls)
	}

	e.Reset()
	e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`))
	if approver.calls != 2 {
		t.Error("reset should clear session grants and prompt again")
	}
}

func TestInteractivePromptsSerialize(t *testing.T) {
	approver := &slowApprover{outcome: Approved}
	e := NewEngine(Config{}, approver)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`))
		}()
	}
	wg.Wait()

	if approver.maxSeen != 1 {
		t.Errorf("%d prompts ran concurrently, want 1 at a time", approver.maxSeen)
	}
	if approver.calls != 4 {
		t.Errorf("approver called %d times, want 4", approver.calls)
	}
}

func TestParallelApproveAllPromptsOnce(t *testing.T) {
	approver := &slowApprover{outcome: ApproveAll}
	e := NewEngine(Config{}, approver)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`)) {
				t.Error("every parallel call should be approved")
			}
		}()
	}
	wg.Wait()

	// Calls waiting for the prompt lock pick up the session grant the first
	// answer created.
	if approver.calls != 1 {
		t.Errorf("approver called %d times, want 1", approver.calls)
	}
}

func TestNoApproverDefaultsToDeny(t *testing.T) {
	e := NewEngine(Config{}, nil)
	if e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"ls"}`)) {
		t.Error("without an approver the conservative default is deny")
	}
}

func TestDecisionIsDeterministic(t *testing.T) {
	cfg := Config{
		AllowPatterns: mustPatterns(t, "Bash(git *)"),
		DenyPatterns:  mustPatterns(t, "Bash(git push*)"),
	}
	e := NewEngine(cfg, nil)
	args := json.RawMessage(`{"command":"git status"}`)
	first := e.Check("bash", RiskDangerous, args)
	for i := 0; i < 10; i++ {
		if e.Check("bash", RiskDangerous, args) != first {
			t.Fatal("same inputs must always yield the same decision")
		}
	}
	if !first {
		t.Error("git status should match the allow pattern")
	}
	if e.Check("bash", RiskDangerous, json.RawMessage(`{"command":"git push origin main"}`)) {
		t.Error("git push must match the deny pattern")
	}
}

func TestParsePatternRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "bash", "(x)", "bash(x"} {
		if _, err := ParsePattern(bad); err == nil {
			t.Errorf("ParsePattern(%q) should fail", bad)
		}
	}
}
