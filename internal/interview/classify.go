// ABOUTME: Reply classification for the conversation state machine
// ABOUTME: Conservative off-topic heuristic; biases toward progress

package interview

import "strings"

type replyClass int

const (
	replySubstantive replyClass = iota
	replyAffirmative
	replyNegative
	replyCancel
	replyOffTopic
)

// Phrase sets are intentionally small and exact. Anything not matched is
// substantive: getting stuck on a real answer costs more than accepting a
// low-content one.
var (
	affirmatives = map[string]bool{
		"1": true, "sim": true, "yes": true, "start": true, "começar": true,
	}
	negatives = map[string]bool{
		"2": true, "não": true, "nao": true, "no": true,
	}
	cancels = map[string]bool{
		"parar": true, "sair": true,
	}
	greetings = map[string]bool{
		"oi": true, "olá": true, "ola": true,
		"bom dia": true, "boa tarde": true, "boa noite": true,
		"hello": true, "hi": true, "hey": true,
	}
	// Questions directed back at the interviewer mark a social reply even
	// inside longer text
	questionsBack = []string{
		"e você", "e voce", "como vai", "tudo bem?", "how are you",
	}
)

func classifyReply(text string) replyClass {
	lowered := strings.ToLower(strings.TrimSpace(text))
	exact := strings.Trim(lowered, " .!")

	switch {
	case cancels[exact]:
		return replyCancel
	case affirmatives[exact]:
		return replyAffirmative
	case negatives[exact]:
		return replyNegative
	case greetings[exact]:
		return replyOffTopic
	}

	for _, phrase := range questionsBack {
		if strings.Contains(lowered, phrase) {
			return replyOffTopic
		}
	}
	return replySubstantive
}
