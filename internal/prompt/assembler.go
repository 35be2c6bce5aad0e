package prompt

import (
	"fmt"
	"strings"

	"github.com/brightbird/EasyMemGraph/internal/memory"
)

// DefaultPersona is the assistant's standing instruction set, used when
// no override is configured.
const DefaultPersona = `你是忆语 (YiYu)，一个具有记忆功能的智能对话伙伴。请根据提供的上下文信息，为用户提供个性化的回应。

指导原则：
1. 利用记忆中的信息提供连贯的对话体验
2. 记住用户的偏好和过去的交互
3. 保持友好和专业的语调
4. 如果没有相关记忆，就基于当前问题进行回答
5. 用中文回答`

const memoryHeading = "Relevant information from previous conversations:"

// Assembler builds the system context that precedes every generation
// call.
type Assembler struct {
	Persona string
}

// NewAssembler returns an assembler with the given persona text, falling
// back to the default when empty.
func NewAssembler(persona string) *Assembler {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return &Assembler{Persona: persona}
}

// Build concatenates the persona with a 1-based numbered list of memory
// texts in their retrieval order. The memory block is omitted entirely
// when there are no memories. Memories are never reordered or deduplicated
// here; retrieval rank is part of the contract with the memory service.
func (a *Assembler) Build(memories []memory.Memory) string {
	if len(memories) == 0 {
		return a.Persona
	}
	var b strings.Builder
	b.WriteString(a.Persona)
	b.WriteString("\n\n")
	b.WriteString(memoryHeading)
	b.WriteString("\n")
	for i, m := range memories {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Text)
	}
	return b.String()
}
