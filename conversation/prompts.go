package conversation

import (
	"fmt"
	"strings"
)

// NoQuestionReply is appended when a turn carries no human message.
const NoQuestionReply = "I did not receive your question."

// Retrieval tool identity recorded on tool messages.
const (
	RetrieveToolName   = "retrieve"
	RetrieveToolCallID = "node_force_call"
)

const keywordTemplate = `You are a language assistant. Your task is to turn the user's question into English keywords suited to searching academic literature.
Return only the keywords and nothing else.

Examples:
User: What is this paper mainly about?
Output: abstract, conclusion

User: What is the research objective of this paper?
Output: research objective

User: How did this review select the literature it covers?
Output: screening method, survey method

User: %s
Output:`

const answerInstruction = "The following was returned by retrieve. Answer the question using the content retrieved from the document below. " +
	"If the information is not enough to answer, say that you don't know. Answer in short, clear sentences.\n\n"

// KeywordPrompt renders the few-shot instruction that rewrites question into search keywords.
func KeywordPrompt(question string) string {
	return fmt.Sprintf(keywordTemplate, question)
}

// AnswerInstruction is the system message placed before the history in generate.
func AnswerInstruction(tools []Message) string {
	parts := make([]string, len(tools))
	for i, m := range tools {
		parts[i] = m.Content
	}
	return answerInstruction + strings.Join(parts, "\n\n")
}

// Persona describes the assistant for the seed system message.
type Persona struct {
	AssistantName string
	Language      string
	FileName      string
}

// Message renders the persona as a system message.
func (p Persona) Message() Message {
	doc := "a document"
	if lang := strings.TrimSpace(p.Language); lang != "" {
		doc = article(lang) + " document"
	}
	return Message{
		Role: RoleSystem,
		Content: fmt.Sprintf("You are a document assistant; the user may call you %s. "+
			"The user uploaded %s \"%s\"; mentions of \"the article\", \"the document\" or \"the paper\" usually refer to it. "+
			"Each time the user asks a question, relevant passages of the document are retrieved for you first; answer carefully based on them. "+
			"If the document does not answer the question, say you don't know.",
			p.AssistantName, doc, p.FileName),
	}
}

func article(lang string) string {
	switch strings.ToLower(lang[:1]) {
	case "a", "e", "i", "o", "u":
		return "an " + lang
	}
	return "a " + lang
}
