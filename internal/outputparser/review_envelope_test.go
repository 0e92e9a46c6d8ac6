package outputparser

import "testing"

func TestExtractReviewEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   *Envelope
	}{
		{
			name:   "clean envelope",
			output: `{"code_complete": true, "break_iteration": false, "justification": "all tests pass"}`,
			want:   &Envelope{CodeComplete: true, BreakIteration: false, Justification: "all tests pass"},
		},
		{
			name: "envelope buried in chatter with ansi codes",
			output: "\x1b[32mThinking...\x1b[0m\n" +
				`Here is my verdict: {"code_complete": false, "break_iteration": true, "justification": "blocked on missing creds"}` +
				"\nDone.\r\n",
			want: &Envelope{CodeComplete: false, BreakIteration: true, Justification: "blocked on missing creds"},
		},
		{
			name:   "nested braces in justification",
			output: `{"code_complete": true, "break_iteration": false, "justification": "fixed func f() { return 1 }"}`,
			want:   &Envelope{CodeComplete: true, BreakIteration: false, Justification: "fixed func f() { return 1 }"},
		},
		{
			name:   "missing code_complete",
			output: `{"break_iteration": true, "justification": "nope"}`,
			want:   nil,
		},
		{
			name:   "code_complete wrong type",
			output: `{"code_complete": "yes", "break_iteration": false}`,
			want:   nil,
		},
		{
			name:   "no json object at all",
			output: "the agent rambled without producing any structured verdict",
			want:   nil,
		},
		{
			name:   "unclosed brace",
			output: `{"code_complete": true, "break_iteration": false`,
			want:   nil,
		},
		{
			name:   "empty input",
			output: "",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractReviewEnvelope(tt.output)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("ExtractReviewEnvelope() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ExtractReviewEnvelope() = nil, want %+v", tt.want)
			}
			if *got != *tt.want {
				t.Errorf("ExtractReviewEnvelope() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFirstBalancedObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: `prefix {"a":1} suffix`, want: `{"a":1}`},
		{name: "braces in string ignored", in: `{"a":"}"}`, want: `{"a":"}"}`},
		{name: "escaped quote in string", in: `{"a":"\""}`, want: `{"a":"\""}`},
		{name: "nested object", in: `{"a":{"b":1}}`, want: `{"a":{"b":1}}`},
		{name: "no object", in: `no braces here`, want: ""},
		{name: "unterminated", in: `{"a":1`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstBalancedObject(tt.in); got != tt.want {
				t.Errorf("firstBalancedObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
