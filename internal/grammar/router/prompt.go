package router

import (
	"fmt"
	"strings"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
	"github.com/vartalaap/vartalaap/pkg/types"
)

// Sampling parameters shared by every tier.
const (
	temperature = 0.3
	maxTokens   = 500
)

// SystemPrompt returns the instruction every tier receives. The native
// language only changes the requested explanationNative field.
func SystemPrompt(native grammar.Language) string {
	name := native.Name
	if name == "" {
		name = grammar.DefaultLanguage.Name
	}

	var b strings.Builder
	b.WriteString("You are an expert English grammar teacher for Indian students.\n")
	b.WriteString("Your job is to detect grammar errors in real-time and provide corrections.\n\n")
	b.WriteString("Response format (JSON):\n")
	b.WriteString("{\n")
	b.WriteString(`  "hasError": boolean,` + "\n")
	b.WriteString(`  "originalText": "the incorrect text",` + "\n")
	b.WriteString(`  "correctedText": "the correct version",` + "\n")
	b.WriteString(`  "errorType": "grammar|tense|article|preposition|filler|indianism",` + "\n")
	b.WriteString(`  "explanation": "Brief explanation in English",` + "\n")
	fmt.Fprintf(&b, `  "explanationNative": "Explanation in %s"`+"\n", name)
	b.WriteString("}\n\n")
	b.WriteString("Focus on:\n")
	b.WriteString("- Subject-verb agreement\n")
	b.WriteString("- Tense errors (especially with 'since', 'for', past tense)\n")
	b.WriteString("- Indianisms ('do the needful', 'revert back', 'prepone', etc.)\n")
	b.WriteString("- Article errors (a/an/the)\n")
	b.WriteString("- Preposition mistakes\n")
	b.WriteString("- Filler words (umm, aah, like, you know)\n\n")
	b.WriteString("Be quick and concise. Only detect actual errors, not stylistic preferences.")
	return b.String()
}

// UserPrompt wraps the fragment under analysis.
func UserPrompt(text string) string {
	return fmt.Sprintf("Analyze this text for grammar errors: %q", text)
}

// request builds the completion request sent to every tier for one fragment.
func request(text string, native grammar.Language) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: SystemPrompt(native),
		Messages:     []types.Message{llm.UserMessage(UserPrompt(text))},
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}
}
