package conversation

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the crude character-to-token ratio used for budgeting.
// It matches the estimator used by the LLM providers so transcript budgets
// and provider budgets agree.
const charsPerToken = 4

// TruncationNotice is appended as a system message whenever an incoming user
// message had to be cut to the per-message token cap.
const TruncationNotice = "Nota: el mensaje anterior del cliente fue recortado por exceder el límite de longitud."

// EstimateTokens approximates the token cost of text at four characters per
// token, with a floor of one token for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// TruncateToTokens cuts text down to at most capTokens estimated tokens,
// preferring a word boundary near the limit. The second result reports
// whether anything was cut.
func TruncateToTokens(text string, capTokens int) (string, bool) {
	if capTokens <= 0 || EstimateTokens(text) <= capTokens {
		return text, false
	}
	limit := capTokens * charsPerToken

	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	cut := string(runes[:limit])

	// Back up to the last space so we do not cut a word in half, unless that
	// would throw away more than a quarter of the budget.
	if idx := strings.LastIndexByte(cut, ' '); idx > limit*3/4 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " "), true
}

// PromptWindow selects the most recent transcript suffix that fits within
// budgetTokens. The newest message is always included even when it exceeds
// the budget on its own, so the model never loses the message it is
// answering. Order is preserved.
func PromptWindow(transcript []Message, budgetTokens int) []Message {
	if len(transcript) == 0 {
		return nil
	}
	if budgetTokens <= 0 {
		return transcript[len(transcript)-1:]
	}

	used := 0
	start := len(transcript)
	for i := len(transcript) - 1; i >= 0; i-- {
		cost := transcript[i].TokensEstimated
		if cost == 0 {
			cost = EstimateTokens(transcript[i].Text)
		}
		if used+cost > budgetTokens && start < len(transcript) {
			break
		}
		used += cost
		start = i
	}
	return transcript[start:]
}

// containsAnyFold reports whether s contains any of the needles,
// case-insensitively.
func containsAnyFold(s string, needles ...string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// isExecutiveProfession reports whether the profile's profession reads as an
// executive or technical role in either Spanish or English.
func isExecutiveProfession(profession string) bool {
	return containsAnyFold(profession,
		"ejecutiv", "director", "gerente", "emprendedor", "fundador",
		"ingenier", "desarrollador", "programador", "arquitecto",
		"executive", "manager", "founder", "entrepreneur",
		"engineer", "developer", "consultant", "consultor", "ceo", "cto",
	)
}
