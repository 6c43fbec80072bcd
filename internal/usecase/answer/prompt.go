package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fortuspay/supportkb/internal/domain"
)

// PromptBuilder composes the system instruction for the completion model.
// Build is a pure function of (context, history): same inputs, same output.
type PromptBuilder struct {
	productName     string
	defaultLanguage string
	fallbacks       map[string]string
}

// NewPromptBuilder creates a prompt builder. fallbacks maps a language code
// to the exact apology-and-contact phrase the model must quote verbatim
// when no relevant knowledge exists.
func NewPromptBuilder(productName, defaultLanguage string, fallbacks map[string]string) *PromptBuilder {
	return &PromptBuilder{
		productName:     productName,
		defaultLanguage: defaultLanguage,
		fallbacks:       fallbacks,
	}
}

// Build prepends exactly one system message to the conversation history.
func (b *PromptBuilder) Build(context string, history []domain.Message) []domain.Message {
	messages := make([]domain.Message, 0, len(history)+1)
	messages = append(messages, domain.Message{
		Role:    domain.RoleSystem,
		Content: b.systemMessage(context),
	})
	messages = append(messages, history...)
	return messages
}

func (b *PromptBuilder) systemMessage(context string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a polite and helpful support agent for %s.\n\n", b.productName)

	if context != "" {
		sb.WriteString("Answer using ONLY the knowledge below. Never invent facts, ")
		sb.WriteString("steps, prices or contact details that are not in it.\n\n")
		sb.WriteString("KNOWLEDGE:\n")
		sb.WriteString(context)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("No relevant knowledge was found for this question. ")
		sb.WriteString("Do not invent an answer: reply with the exact fallback phrase ")
		sb.WriteString("for the user's language listed below.\n\n")
	}

	sb.WriteString("If the knowledge does not cover the user's question, reply with the exact ")
	sb.WriteString("fallback phrase for the user's language, word for word:\n")
	for _, lang := range b.sortedLanguages() {
		fmt.Fprintf(&sb, "- %s: %q\n", lang, b.fallbacks[lang])
	}
	fmt.Fprintf(&sb, "For any other language, use the %q phrase translated into that language.\n\n",
		b.defaultLanguage)

	sb.WriteString("Always reply in the same language as the user's latest message. ")
	sb.WriteString("Translate knowledge text into that language, keeping its structure intact: ")
	sb.WriteString("numbered steps stay numbered in the same order, and identifiers, button ")
	sb.WriteString("labels and codes are kept exactly as written.\n\n")

	sb.WriteString("Use numbered or bulleted steps for procedural answers. ")
	sb.WriteString("Keep answers short. Close with a brief offer of further help ")
	sb.WriteString("in the user's language.")

	return sb.String()
}

// sortedLanguages keeps fallback ordering deterministic across calls.
func (b *PromptBuilder) sortedLanguages() []string {
	langs := make([]string, 0, len(b.fallbacks))
	for lang := range b.fallbacks {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}
