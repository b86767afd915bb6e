// Package acpconfig loads the JSON document describing known coding agents
// and the orchestrator's global policy (C1). A missing or malformed file is
// not an error to the caller: ACP is an optional subsystem, so loading always
// degrades to an empty default configuration.
package acpconfig

import (
	"encoding/json"
	"os"

	"github.com/kandev/acpgate/internal/common/logger"
)

const (
	defaultPromptTimeoutSecs = 300
	defaultLaunch            = "npx"
)

// AgentConfig describes one configured coding agent.
type AgentConfig struct {
	Launch      string            `json:"launch"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Workspace   string            `json:"workspace,omitempty"`
	AutoApprove *bool             `json:"auto_approve,omitempty"`
}

// GlobalConfig is the parsed configuration file: default policy plus the
// set of known agents.
type GlobalConfig struct {
	DefaultAutoApprove bool                   `json:"default_auto_approve"`
	PromptTimeoutSecs  uint64                 `json:"prompt_timeout_secs"`
	Agents             map[string]AgentConfig `json:"agents"`
}

// Default returns the zero-agent default configuration.
func Default() GlobalConfig {
	return GlobalConfig{
		DefaultAutoApprove: false,
		PromptTimeoutSecs:  defaultPromptTimeoutSecs,
		Agents:             map[string]AgentConfig{},
	}
}

// rawDocument mirrors the on-disk shape, accepting both the snake_case keys
// and their camelCase aliases. encoding/json has no native alias mechanism
// (unlike serde's #[serde(alias = "...")] used by the original Rust config),
// so both spellings are declared as separate optional fields and merged by
// Parse, preferring the snake_case value when both are present.
type rawDocument struct {
	DefaultAutoApprove  *bool                     `json:"default_auto_approve"`
	DefaultAutoApproveC *bool                     `json:"defaultAutoApprove"`
	PromptTimeoutSecs   *uint64                   `json:"prompt_timeout_secs"`
	PromptTimeoutSecsC  *uint64                   `json:"promptTimeoutSecs"`
	Agents              map[string]rawAgentConfig `json:"agents"`
	AgentsC             map[string]rawAgentConfig `json:"acpAgents"`
}

type rawAgentConfig struct {
	Launch      *string           `json:"launch"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Workspace   *string           `json:"workspace"`
	AutoApprove *bool             `json:"auto_approve"`
}

func firstBool(a, b *bool, def bool) bool {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return def
}

func firstUint64(a, b *uint64, def uint64) uint64 {
	if a != nil {
		return *a
	}
	if b != nil {
		return *b
	}
	return def
}

func mergeAgents(primary, alias map[string]rawAgentConfig) map[string]AgentConfig {
	out := make(map[string]AgentConfig, len(primary)+len(alias))
	merge := func(src map[string]rawAgentConfig) {
		for name, raw := range src {
			launch := defaultLaunch
			if raw.Launch != nil && *raw.Launch != "" {
				launch = *raw.Launch
			}
			ws := ""
			if raw.Workspace != nil {
				ws = *raw.Workspace
			}
			args := raw.Args
			if args == nil {
				args = []string{}
			}
			env := raw.Env
			if env == nil {
				env = map[string]string{}
			}
			out[name] = AgentConfig{
				Launch:      launch,
				Command:     raw.Command,
				Args:        args,
				Env:         env,
				Workspace:   ws,
				AutoApprove: raw.AutoApprove,
			}
		}
	}
	merge(alias)
	merge(primary)
	return out
}

// Load reads path and returns the parsed configuration. A missing file
// yields defaults with no log output; a malformed file yields defaults plus
// a warning log. Either way the call never fails.
func Load(path string, log *logger.Logger) GlobalConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	return Parse(data, log)
}

// Parse decodes a configuration document already read into memory.
func Parse(data []byte, log *logger.Logger) GlobalConfig {
	if len(data) == 0 {
		return Default()
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		if log != nil {
			log.Warn("acp config file is malformed, falling back to defaults")
		}
		return Default()
	}

	return GlobalConfig{
		DefaultAutoApprove: firstBool(raw.DefaultAutoApprove, raw.DefaultAutoApproveC, false),
		PromptTimeoutSecs:  firstUint64(raw.PromptTimeoutSecs, raw.PromptTimeoutSecsC, defaultPromptTimeoutSecs),
		Agents:             mergeAgents(raw.Agents, raw.AgentsC),
	}
}
