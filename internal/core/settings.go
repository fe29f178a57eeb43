package core

// Settings is the shared configuration shape attached to Projects, Goals,
// and Tasks. Any field may be left at its zero value, in which case
// resolution falls through to the next level in the precedence chain.
type Settings struct {
	Model              string   `json:"model,omitempty"`
	BudgetUSD          float64  `json:"budget_usd,omitempty"`
	MaxTurns           int      `json:"max_turns,omitempty"`
	AllowedTools       []string `json:"allowed_tools,omitempty"`
	PermissionMode     string   `json:"permission_mode,omitempty"`
	SystemPromptSuffix string   `json:"system_prompt_suffix,omitempty"`

	// MaxConcurrentAgents caps how many Supervisors a goal may run at
	// once (0 = unbounded). Resolves the §9 open question: tasks beyond
	// the cap remain pending, never assigned (see scheduler.DispatchAll).
	MaxConcurrentAgents int `json:"max_concurrent_agents,omitempty"`

	// ReviewEnabled spawns a review-kind task as a dependent of every
	// successful implementation task (full-spec supplemented feature).
	ReviewEnabled bool `json:"review_enabled,omitempty"`
}

// DefaultSettings are the built-in fallback values used when no level of
// the precedence chain supplies a field.
func DefaultSettings() Settings {
	return Settings{
		Model:          "claude-sonnet-4",
		BudgetUSD:      5.00,
		MaxTurns:       30,
		PermissionMode: "acceptEdits",
	}
}

// ResolveSettings merges task, goal, and project settings field-by-field,
// task taking precedence over goal over project over built-in defaults.
// Any field missing (zero-valued) at one level falls through to the next.
func ResolveSettings(task, goal, project *Settings) Settings {
	resolved := DefaultSettings()
	for _, level := range []*Settings{project, goal, task} {
		if level == nil {
			continue
		}
		if level.Model != "" {
			resolved.Model = level.Model
		}
		if level.BudgetUSD != 0 {
			resolved.BudgetUSD = level.BudgetUSD
		}
		if level.MaxTurns != 0 {
			resolved.MaxTurns = level.MaxTurns
		}
		if len(level.AllowedTools) > 0 {
			resolved.AllowedTools = level.AllowedTools
		}
		if level.PermissionMode != "" {
			resolved.PermissionMode = level.PermissionMode
		}
		if level.SystemPromptSuffix != "" {
			resolved.SystemPromptSuffix = level.SystemPromptSuffix
		}
		if level.MaxConcurrentAgents != 0 {
			resolved.MaxConcurrentAgents = level.MaxConcurrentAgents
		}
		if level.ReviewEnabled {
			resolved.ReviewEnabled = level.ReviewEnabled
		}
	}
	return resolved
}
