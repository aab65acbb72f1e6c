package mockserver

import "strings"

var probes = []string{
	"What factors led you to that perspective?",
	"Can you tell me more about what concerns you most about this?",
	"What would an ideal solution look like from your point of view?",
	"How do you think this affects people in your community?",
	"What experiences have shaped your thinking on this?",
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// FollowUpQuestion picks the probe for an answer. Topic keywords select a targeted
// probe; otherwise probes rotate by how many have been asked for the question.
func FollowUpQuestion(answer string, asked int) string {
	lower := strings.ToLower(answer)
	switch {
	case strings.Contains(lower, "econom") || strings.Contains(lower, "cost"):
		return "How do economic considerations factor into your view on this?"
	case strings.Contains(lower, "family") || strings.Contains(lower, "personal"):
		return "How have personal or family experiences influenced your perspective?"
	case strings.Contains(lower, "security") || strings.Contains(lower, "safety"):
		return "What specific security or safety concerns are most important to you?"
	}
	if asked < 0 {
		asked = 0
	}
	return probes[asked%len(probes)]
}
