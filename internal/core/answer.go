package core

import "encoding/json"

// SearchResult is one normalized web search hit. Index is the 1-based rank in
// the provider's order.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Favicon     string `json:"favicon,omitempty"`
	Index       int    `json:"index"`
}

type Tone string

const (
	ToneNeutral  Tone = "neutral"
	ToneFriendly Tone = "friendly"
	ToneFormal   Tone = "formal"
)

type AnswerLength string

const (
	LengthConcise  AnswerLength = "concise"
	LengthNormal   AnswerLength = "normal"
	LengthDetailed AnswerLength = "detailed"
)

// Personalization is supplied per request by the caller and not validated
// beyond its shape. Zero values mean neutral tone and the request style.
type Personalization struct {
	Tone         Tone         `json:"tone,omitempty"`
	AnswerLength AnswerLength `json:"answerLength,omitempty"`
	Language     string       `json:"language,omitempty"`
}

// AnswerRequest is the body of POST /api/answer.
type AnswerRequest struct {
	Query           string           `json:"query"`
	AnswerStyle     AnswerLength     `json:"answerStyle,omitempty"`
	Personalization *Personalization `json:"personalization,omitempty"`
}

// AnswerResult is what a successful generation reports after streaming.
type AnswerResult struct {
	Followups []string
	ModelUsed string
}

type EventType string

const (
	EventSources   EventType = "sources"
	EventToken     EventType = "token"
	EventModelUsed EventType = "modelUsed"
	EventFollowups EventType = "followups"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// StreamEvent is one message on the answer stream. Only the fields matching
// Type are serialized.
type StreamEvent struct {
	Type      EventType
	Sources   []SearchResult
	Content   string
	Model     string
	Followups []string
	Error     string
}

func SourcesEvent(sources []SearchResult) StreamEvent {
	if sources == nil {
		sources = []SearchResult{}
	}
	return StreamEvent{Type: EventSources, Sources: sources}
}

func TokenEvent(content string) StreamEvent {
	return StreamEvent{Type: EventToken, Content: content}
}

func ModelUsedEvent(model string) StreamEvent {
	return StreamEvent{Type: EventModelUsed, Model: model}
}

func FollowupsEvent(followups []string) StreamEvent {
	if followups == nil {
		followups = []string{}
	}
	return StreamEvent{Type: EventFollowups, Followups: followups}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Error: message}
}

func (e StreamEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []SearchResult{}
		}
		return json.Marshal(struct {
			Type    EventType      `json:"type"`
			Sources []SearchResult `json:"sources"`
		}{e.Type, sources})
	case EventToken:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	case EventModelUsed:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Model string    `json:"model"`
		}{e.Type, e.Model})
	case EventFollowups:
		followups := e.Followups
		if followups == nil {
			followups = []string{}
		}
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Followups []string  `json:"followups"`
		}{e.Type, followups})
	case EventError:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Error string    `json:"error"`
		}{e.Type, e.Error})
	default:
		return json.Marshal(struct {
			Type EventType `json:"type"`
		}{e.Type})
	}
}
