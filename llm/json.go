package llm

import (
	"encoding/json"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"

	"dealgraph.org/common"
)

// DecodeJSON parses model output into dst. Models wrap JSON in markdown
// fences, truncate closing braces, and emit trailing commas; plain
// json.Unmarshal is tried first and the repair pass only runs on failure.
func DecodeJSON(raw string, dst interface{}) error {
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), dst); err == nil {
		return nil
	}

	repaired, err := jsonrepair.RepairJSON(cleaned)
	if err != nil {
		return common.Wrap(common.KindProviderContract, "model output is not valid json", err)
	}
	if err := json.Unmarshal([]byte(repaired), dst); err != nil {
		return common.Wrap(common.KindProviderContract, "repaired json does not match expected shape", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
