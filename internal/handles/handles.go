// Package handles is the static alias-to-configuration table that
// resolves an inbound email's requested handle (its "to" alias) to the
// processing behavior it implies.
package handles

// Config describes one named email handle and the aliases that resolve
// to it, mirroring handle_configuration.py's EmailHandleInstructions.
type Config struct {
	Handle                  string
	Aliases                 []string
	ProcessAttachments      bool
	DeepResearchMandatory   bool
	RejectionMessage        string
	RequiresScheduleExtract bool
}

const defaultRejectionMessage = "This email handle is not supported. Please visit https://mxtoai.com/docs/email-handles to learn about supported email handles."

// Handles is every configured handle, in the original's declaration
// order.
var Handles = []Config{
	{Handle: "summarize", Aliases: []string{"summarise", "summary"}, ProcessAttachments: true},
	{Handle: "research", Aliases: []string{"deep-research"}, ProcessAttachments: true, DeepResearchMandatory: true},
	{Handle: "simplify", Aliases: []string{"eli5", "explain"}, ProcessAttachments: true},
	{Handle: "ask", Aliases: []string{"custom", "agent", "assist", "assistant", "hi", "hello", "question"}, ProcessAttachments: true},
	{Handle: "fact-check", Aliases: []string{"factcheck", "verify"}, ProcessAttachments: true},
	{Handle: "background-research", Aliases: []string{"background-check", "background"}, ProcessAttachments: true},
	{Handle: "translate", Aliases: []string{"translation"}, ProcessAttachments: true},
	{Handle: "schedule", Aliases: []string{"schedule-action"}, ProcessAttachments: true, RequiresScheduleExtract: true},
}

// handleMap resolves every handle name and alias to its Config,
// matching HANDLE_MAP's flattening of EMAIL_HANDLES.
var handleMap = buildHandleMap()

func buildHandleMap() map[string]Config {
	m := make(map[string]Config, len(Handles)*2)
	for _, h := range Handles {
		m[h.Handle] = h
		for _, alias := range h.Aliases {
			m[alias] = h
		}
	}
	return m
}

// Resolve looks up a handle or alias name, case-sensitively per the
// original (aliases are declared lowercase and compared as-is).
func Resolve(name string) (Config, bool) {
	cfg, ok := handleMap[name]
	return cfg, ok
}

// RejectionMessage returns the configured rejection message for a
// handle, or the default shared message if none is set.
func RejectionMessage(cfg Config) string {
	if cfg.RejectionMessage != "" {
		return cfg.RejectionMessage
	}
	return defaultRejectionMessage
}
