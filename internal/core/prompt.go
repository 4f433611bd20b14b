package core

import (
	"fmt"
	"strings"
)

var toneInstructions = map[Tone]string{
	ToneFriendly: "Use a warm, conversational, and approachable tone. Be helpful and engaging.",
	ToneFormal:   "Use professional, precise language. Maintain a formal and academic tone.",
	ToneNeutral:  "Use a balanced, neutral tone. Be clear and informative without being overly casual or formal.",
}

var lengthInstructions = map[AnswerLength]string{
	LengthConcise:  "Provide a clear, concise answer. Focus on the most important information. Keep your response brief but comprehensive.",
	LengthDetailed: "Provide a detailed, comprehensive answer. Include relevant context, examples, and nuances. Be thorough and explanatory.",
	LengthNormal:   "Provide a balanced answer with moderate detail. Include key information and some context without being overly brief or exhaustive.",
}

// English is the only supported response language.
const languageInstruction = "Respond in English."

var followUpTemplates = []string{
	"What are the latest developments related to %s?",
	"Can you explain more details about %s?",
	"What are the alternatives or related topics to %s?",
}

// effectiveLength picks the personalization length when set, then the
// request style, then concise.
func effectiveLength(style AnswerLength, p *Personalization) AnswerLength {
	if p != nil && p.AnswerLength != "" {
		return p.AnswerLength
	}
	if style != "" {
		return style
	}
	return LengthConcise
}

func toneFor(p *Personalization) string {
	if p != nil {
		if s, ok := toneInstructions[p.Tone]; ok {
			return s
		}
	}
	return toneInstructions[ToneNeutral]
}

func lengthFor(l AnswerLength) string {
	if s, ok := lengthInstructions[l]; ok {
		return s
	}
	return lengthInstructions[LengthNormal]
}

// BuildContext renders sources as numbered blocks separated by blank lines.
func BuildContext(sources []SearchResult) string {
	blocks := make([]string, 0, len(sources))
	for i, src := range sources {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s\nURL: %s", i+1, src.Title, src.Description, src.URL))
	}
	return strings.Join(blocks, "\n\n")
}

// BuildPrompt composes the answer prompt from the query, its sources and the
// caller's personalization.
func BuildPrompt(query string, sources []SearchResult, style AnswerLength, p *Personalization) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful AI assistant that provides accurate, comprehensive answers based on search results.\n\n")
	fmt.Fprintf(&sb, "Tone: %s\n", toneFor(p))
	sb.WriteString(languageInstruction + "\n\n")
	fmt.Fprintf(&sb, "User Query: %s\n\n", query)
	fmt.Fprintf(&sb, "Search Results:\n%s\n\n", BuildContext(sources))
	sb.WriteString("Instructions:\n")
	fmt.Fprintf(&sb, "1. %s\n", lengthFor(effectiveLength(style, p)))
	sb.WriteString("2. Use inline citations like [1], [2], etc. when referencing specific sources\n")
	sb.WriteString("3. Use markdown formatting for better readability\n")
	sb.WriteString("4. If the search results don't fully answer the query, acknowledge the limitations\n")
	sb.WriteString("5. Structure your answer with clear headings and bullet points where appropriate\n\n")
	sb.WriteString("Answer:")
	return sb.String()
}

// FollowUpQuestions fills the query into the three fixed follow-up patterns.
func FollowUpQuestions(query string) []string {
	out := make([]string, len(followUpTemplates))
	for i, tmpl := range followUpTemplates {
		out[i] = fmt.Sprintf(tmpl, query)
	}
	return out
}

func rephrasePrompt(query string) string {
	return "Rephrase the following search query to be more specific and optimized for web search. " +
		"Return only the rephrased query without any explanation or quotes:\n\n" + query
}
