package prompt

import (
	"strings"
	"testing"

	"github.com/brightbird/EasyMemGraph/internal/memory"
)

func TestBuildWithoutMemories(t *testing.T) {
	a := NewAssembler("POLICY")
	got := a.Build(nil)
	if got != "POLICY" {
		t.Fatalf("Build(nil) = %q, want persona only", got)
	}
	if strings.Contains(got, "Relevant information") {
		t.Fatalf("Build(nil) contains memory heading: %q", got)
	}
}

func TestBuildOrdering(t *testing.T) {
	a := NewAssembler("POLICY")
	got := a.Build([]memory.Memory{
		{Text: "A", Score: 0.2},
		{Text: "B", Score: 0.9},
	})

	policyIdx := strings.Index(got, "POLICY")
	firstIdx := strings.Index(got, "1. A")
	secondIdx := strings.Index(got, "2. B")
	if policyIdx < 0 || firstIdx < 0 || secondIdx < 0 {
		t.Fatalf("Build() = %q, missing expected segments", got)
	}
	// Retrieval rank is preserved even when scores disagree with it.
	if !(policyIdx < firstIdx && firstIdx < secondIdx) {
		t.Fatalf("Build() segments out of order: %q", got)
	}
}

func TestBuildKeepsDuplicates(t *testing.T) {
	a := NewAssembler("POLICY")
	got := a.Build([]memory.Memory{{Text: "同一条"}, {Text: "同一条"}})
	if !strings.Contains(got, "1. 同一条") || !strings.Contains(got, "2. 同一条") {
		t.Fatalf("Build() deduplicated memories: %q", got)
	}
}

func TestNewAssemblerDefaultPersona(t *testing.T) {
	a := NewAssembler("   ")
	if a.Persona != DefaultPersona {
		t.Fatalf("Persona = %q, want default", a.Persona)
	}
	if !strings.Contains(a.Persona, "忆语 (YiYu)") || !strings.Contains(a.Persona, "用中文回答") {
		t.Fatalf("default persona lost its identity text: %q", a.Persona)
	}
}
