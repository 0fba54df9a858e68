package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/martinemde/streamloop/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := registryWith(&recordingTool{}, false, "write", "read")
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"read", "write"}, reg.Names())

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "read", defs[0].Name)

	clone := reg.Clone()
	clone.Unregister("read")
	assert.Nil(t, clone.Get("read"))
	assert.NotNil(t, reg.Get("read"))

	other := NewToolRegistry()
	other.Register(RegisteredTool{Definition: ToolDefinition{Name: "grep"}, Executor: func(context.Context, json.RawMessage) (string, error) {
		return "", nil
	}})
	clone.MergeFrom(other)
	assert.Equal(t, []string{"grep", "write"}, clone.Names())
}

func TestParseToolArguments(t *testing.T) {
	args, err := ParseToolArguments(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseToolArguments(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = ParseToolArguments(json.RawMessage(`{"command":"ls","timeout":30,"force":true}`))
	require.NoError(t, err)
	cmd, ok := GetStringArg(args, "command")
	assert.True(t, ok)
	assert.Equal(t, "ls", cmd)
	timeout, ok := GetIntArg(args, "timeout")
	assert.True(t, ok)
	assert.Equal(t, 30, timeout)
	force, ok := GetBoolArg(args, "force")
	assert.True(t, ok)
	assert.True(t, force)
	_, ok = GetIntArg(args, "command")
	assert.False(t, ok)

	_, err = ParseToolArguments(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestTruncateOutput(t *testing.T) {
	out := strings.Repeat("a", 50) + strings.Repeat("b", 50)

	headTail := TruncateOutput(out, 20, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(headTail, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(headTail, strings.Repeat("b", 10)))
	assert.Contains(t, headTail, "80 characters were removed from the middle")

	tail := TruncateOutput(out, 20, TruncateTail)
	assert.True(t, strings.HasSuffix(tail, strings.Repeat("b", 20)))
	assert.Contains(t, tail, "First 80 characters were removed")

	assert.Equal(t, "short", TruncateOutput("short", 20, TruncateTail))
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = string(rune('0' + i))
	}
	out := TruncateLines(strings.Join(lines, "\n"), 4)
	assert.Equal(t, "0\n1\n[... 6 lines omitted ...]\n8\n9", out)
}

func TestTruncateToolOutputDefaults(t *testing.T) {
	long := strings.Repeat("line\n", 400)
	out := TruncateToolOutput(long, "terminal", nil, nil)
	assert.Contains(t, out, "lines omitted")

	assert.Equal(t, long, TruncateToolOutput(long, "term_get_scrollback", nil, nil))
	assert.Equal(t, long, TruncateToolOutput(long, "terminal", nil, map[string]int{"terminal": 0}))
}

func TestDetectLoop(t *testing.T) {
	turn := func(name, args string) []unifiedllm.Message {
		c := call("id-"+name+args, name, args)
		return []unifiedllm.Message{
			unifiedllm.AssistantToolCallMessage("", "", []unifiedllm.ToolCall{c}),
			unifiedllm.ToolResultMessage(c.ID, "ok", false),
		}
	}

	var alternating []unifiedllm.Message
	for i := 0; i < 3; i++ {
		alternating = append(alternating, turn("read", `{"p":"a"}`)...)
		alternating = append(alternating, turn("write", `{"p":"a"}`)...)
	}
	assert.True(t, DetectLoop(alternating, 6))
	assert.False(t, DetectLoop(alternating, 5), "window not divisible by the 2-pattern")

	var varied []unifiedllm.Message
	for i := 0; i < 6; i++ {
		varied = append(varied, turn("read", string(rune('a'+i)))...)
	}
	assert.False(t, DetectLoop(varied, 6))
	assert.False(t, DetectLoop(alternating[:4], 6), "not enough history")
	assert.False(t, DetectLoop(alternating, 0))
}
