package cursorcli

import (
	"reflect"
	"testing"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "print carries prompt as its value",
			opts: Options{CLIPath: "cursor", Print: true, Prompt: "fix the bug"},
			want: []string{"cursor", "--print", "fix the bug"},
		},
		{
			name: "resume appends session id",
			opts: Options{CLIPath: "cursor", Print: true, Prompt: "continue", Resume: "agent-1-abc"},
			want: []string{"cursor", "--print", "continue", "--resume", "agent-1-abc"},
		},
		{
			name: "full flag set in deterministic order",
			opts: Options{
				CLIPath:     "cursor",
				Print:       true,
				Prompt:      "go",
				Resume:      "agent-1-abc",
				Force:       true,
				Model:       "fast-1",
				ApproveMCPs: true,
			},
			want: []string{"cursor", "--print", "go", "--resume", "agent-1-abc", "--force", "--model", "fast-1", "--approve-mcps"},
		},
		{
			name: "prompt without print is positional",
			opts: Options{CLIPath: "cursor", Prompt: "hello"},
			want: []string{"cursor", "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(tt.opts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Build() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInjectPromptAppendsToFlagValue(t *testing.T) {
	argv := []string{"cursor", "--print", "fix the bug", "--resume", "agent-1"}
	got := InjectPrompt(argv, " also run lint")
	want := []string{"cursor", "--print", "fix the bug also run lint", "--resume", "agent-1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InjectPrompt() = %v, want %v", got, want)
	}
}

func TestInjectPromptFallsBackToLastArg(t *testing.T) {
	argv := []string{"cursor", "--force", "--model", "fast-1"}
	got := InjectPrompt(argv, " extra")
	want := []string{"cursor", "--force", "--model", "fast-1 extra"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InjectPrompt() = %v, want %v", got, want)
	}
}

func TestInjectPromptEmptyExtraIsNoop(t *testing.T) {
	argv := []string{"cursor", "--print", "hi"}
	got := InjectPrompt(argv, "")
	if !reflect.DeepEqual(got, argv) {
		t.Errorf("InjectPrompt with empty extra mutated argv: %v", got)
	}
}

func TestInjectPromptFindsFirstOccurrence(t *testing.T) {
	argv := []string{"cursor", "-p", "first prompt", "--instruction", "second"}
	got := InjectPrompt(argv, "!")
	want := []string{"cursor", "-p", "first prompt!", "--instruction", "second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("InjectPrompt() = %v, want %v", got, want)
	}
}
