// Package cursorcli assembles the argument vector passed to the Agent CLI.
// The supervisor never invokes a shell, so building argv correctly here is
// the only place quoting/escaping concerns ever arise (spec §6).
package cursorcli

// promptFlags is the set of flags whose value the prompt-injection step may
// append to, in the order construction should consider them.
var promptFlags = []string{"--print", "--prompt", "-p", "--instruction", "--message"}

// Options configures one invocation's argument vector.
type Options struct {
	CLIPath     string
	Print       bool   // pass Prompt as the value of --print rather than positionally
	Resume      string // conversation/session id to resume, empty for a fresh run
	Force       bool
	Model       string
	ApproveMCPs bool
	Prompt      string
}

// Build assembles the full argument vector (argv[0] included) for one Agent
// CLI invocation. Flag order is deterministic so golden-output tests and log
// lines are stable across runs.
func Build(opts Options) []string {
	argv := []string{opts.CLIPath}

	if opts.Print {
		argv = append(argv, "--print", opts.Prompt)
	}
	if opts.Resume != "" {
		argv = append(argv, "--resume", opts.Resume)
	}
	if opts.Force {
		argv = append(argv, "--force")
	}
	if opts.Model != "" {
		argv = append(argv, "--model", opts.Model)
	}
	if opts.ApproveMCPs {
		argv = append(argv, "--approve-mcps")
	}
	if !opts.Print && opts.Prompt != "" {
		argv = append(argv, opts.Prompt)
	}
	return argv
}

// InjectPrompt appends extra text to the value of the first recognized
// prompt-bearing flag (--print, --prompt, -p, --instruction, --message). If
// none of those flags are present in argv, extra is appended to the last
// argument instead (spec §6 "prompt-injection" step).
func InjectPrompt(argv []string, extra string) []string {
	if extra == "" || len(argv) == 0 {
		return argv
	}

	for i, arg := range argv {
		if !isPromptFlag(arg) {
			continue
		}
		valueIdx := i + 1
		if valueIdx < len(argv) {
			argv[valueIdx] = argv[valueIdx] + extra
			return argv
		}
		// Flag present but carries no separate value argument (e.g. the
		// flag itself is the last token); fall through to last-argument
		// append below.
		break
	}

	last := len(argv) - 1
	argv[last] = argv[last] + extra
	return argv
}

func isPromptFlag(arg string) bool {
	for _, f := range promptFlags {
		if arg == f {
			return true
		}
	}
	return false
}
