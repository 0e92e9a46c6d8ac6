package outputparser

import (
	"reflect"
	"testing"
)

func TestExtractTouchedFiles(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{name: "empty input", output: "", want: []string{}},
		{
			name:   "single created line",
			output: "Running task...\ncreated: src/user.ts\nDone.",
			want:   []string{"src/user.ts"},
		},
		{
			name: "mixed verbs, case-insensitive, dedup",
			output: "Created: a.go\n" +
				"MODIFIED: b.go\n" +
				"updated: c.go\n" +
				"created: a.go\n",
			want: []string{"a.go", "b.go", "c.go"},
		},
		{
			name:   "path with spaces preserved",
			output: "created: src/my component/index.tsx",
			want:   []string{"src/my component/index.tsx"},
		},
		{
			name:   "unrelated lines ignored",
			output: "Thinking...\nCreating plan\nno colon here",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTouchedFiles(tt.output)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractTouchedFiles() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
