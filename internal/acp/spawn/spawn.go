// Package spawn turns an agent configuration plus an optional workspace
// override into a ready-to-run os/exec.Cmd (C2).
package spawn

import (
	"os"
	"os/exec"

	"github.com/kandev/acpgate/internal/acp/acpconfig"
)

// nestedSessionEnvVars are removed from the child's environment so that the
// popular first-party coding agent does not detect it is being launched from
// inside another agent session and refuse to start.
var nestedSessionEnvVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS",
}

// Descriptor is an OS-process invocation ready to be started.
type Descriptor struct {
	Program string
	Args    []string
	Env     []string
	Dir     string
}

// Build produces a Descriptor for cfg, with workspaceOverride taking
// precedence over cfg.Workspace when non-empty.
func Build(cfg acpconfig.AgentConfig, workspaceOverride string) Descriptor {
	var program string
	var leading []string

	switch cfg.Launch {
	case "npx":
		program = "npx"
		leading = []string{"-y", cfg.Command}
	case "uvx":
		program = "uvx"
		leading = []string{cfg.Command}
	default:
		program = cfg.Command
		leading = nil
	}

	args := make([]string, 0, len(leading)+len(cfg.Args))
	args = append(args, leading...)
	args = append(args, cfg.Args...)

	dir := cfg.Workspace
	if workspaceOverride != "" {
		dir = workspaceOverride
	}

	return Descriptor{
		Program: program,
		Args:    args,
		Env:     buildEnv(cfg.Env),
		Dir:     dir,
	}
}

// buildEnv starts from the process environment, removes the nested-session
// detection variables, then appends the agent's configured additions.
func buildEnv(additions map[string]string) []string {
	base := os.Environ()
	filtered := make([]string, 0, len(base))
	for _, kv := range base {
		if !hasRemovedPrefix(kv) {
			filtered = append(filtered, kv)
		}
	}
	for k, v := range additions {
		filtered = append(filtered, k+"="+v)
	}
	return filtered
}

func hasRemovedPrefix(kv string) bool {
	for _, name := range nestedSessionEnvVars {
		if len(kv) > len(name) && kv[:len(name)+1] == name+"=" {
			return true
		}
		if kv == name {
			return true
		}
	}
	return false
}

// Cmd builds an *exec.Cmd from the descriptor's program, args, env and dir.
// It does not attach any std streams; the caller opens the stdin, stdout and
// stderr pipes and calls Start.
func (d Descriptor) Cmd() *exec.Cmd {
	cmd := exec.Command(d.Program, d.Args...)
	cmd.Env = d.Env
	cmd.Dir = d.Dir
	return cmd
}
