package classify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPromptStructure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	prompt := BuildPrompt("ls -la")
	for _, want := range []string{
		"CLASSIFICATION RULES:",
		"READ - Retrieves/displays data with NO side effects:",
		"CREATE - Makes new resources:",
		"UPDATE - Modifies existing resources:",
		"DELETE - Removes resources:",
		"COMPLEX EXAMPLES:",
		"respond with ONLY one word",
		"Command: ls -la",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.HasSuffix(prompt, "Classification:") {
		t.Error("prompt should end with Classification:")
	}
}

func TestBuildPromptTrimsCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	prompt := BuildPrompt("  go test ./...  ")
	if !strings.Contains(prompt, "Command: go test ./...\n") {
		t.Error("command should be trimmed in the prompt")
	}
}

func TestBuildPromptExampleCounts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	prompt := BuildPrompt("test")
	if got := strings.Count(prompt, "Command:"); got != 12 {
		t.Errorf("Command: count = %d, want 11 examples + 1 target", got)
	}
	if got := strings.Count(prompt, "Reason:"); got != 11 {
		t.Errorf("Reason: count = %d, want 11", got)
	}
	if got := strings.Count(prompt, "Classification:"); got != 12 {
		t.Errorf("Classification: count = %d, want 12", got)
	}
}

func TestBuildPromptIncludesCorrections(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".clawgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, _ := json.Marshal(correctionsFile{
		Corrections: []Correction{
			{Command: "echo hi > greeting.txt", Predicted: "UPDATE", Expected: "CREATE"},
		},
		Version: "1.0",
	})
	if err := os.WriteFile(filepath.Join(dir, correctionsFileName), data, 0644); err != nil {
		t.Fatalf("write corrections: %v", err)
	}

	prompt := BuildPrompt("ls")
	if !strings.Contains(prompt, "IMPORTANT: Learn from these user-corrected examples:") {
		t.Error("prompt should announce corrections")
	}
	if !strings.Contains(prompt, "Command: echo hi > greeting.txt\nWRONG: UPDATE | CORRECT: CREATE") {
		t.Error("prompt should carry the correction example")
	}
	if !strings.HasSuffix(prompt, "Classification:") {
		t.Error("target command should still come last")
	}
}

func TestBuildPromptIgnoresCorruptCorrections(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".clawgate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, correctionsFileName), []byte("{broken"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	prompt := BuildPrompt("ls")
	if strings.Contains(prompt, "IMPORTANT:") {
		t.Error("corrupt corrections file should be ignored")
	}
}

func TestExtractLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"READ", "READ"},
		{"  DELETE  ", "DELETE"},
		{"Classification: CREATE", "CREATE"},
		{"Answer: UPDATE", "UPDATE"},
		{"Type: READ extra words", "READ"},
		{"The answer is UPDATE", "UPDATE"},
		{"READ - this command only reads files", "READ"},
		{"**CREATE**", "CREATE"},
		{"read", "read"},
		{"no label here", "no"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractLabel(tc.in); got != tc.want {
			t.Errorf("extractLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseClassification(t *testing.T) {
	for raw, want := range map[string]Classification{
		"READ":   Read,
		"create": Create,
		" Update ": Update,
		"DELETE": Delete,
	} {
		got, err := ParseClassification(raw)
		if err != nil {
			t.Errorf("ParseClassification(%q): %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("ParseClassification(%q) = %v, want %v", raw, got, want)
		}
	}

	for _, bad := range []string{"MODIFY", "", "WRITE"} {
		if _, err := ParseClassification(bad); err == nil {
			t.Errorf("ParseClassification(%q) should fail", bad)
		}
	}
}
