// File path: internal/extract/fae.go
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/excavator-project/excavator/internal/xerrors"
)

// FAE is the ingest path for conversational-AI export archives. Each
// provider's schema variant is parsed into the same canonical shape, which
// the pipeline then treats like any other document.

// Message is one canonical conversation message.
type Message struct {
	ID        string
	Role      string // human, assistant, system
	Content   string
	Timestamp time.Time
}

// Conversation is one canonical conversation from a provider export.
type Conversation struct {
	ID        string
	Title     string
	Provider  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Text renders the conversation as prose for chunking: title header plus
// role-tagged turns.
func (c Conversation) Text() string {
	var b strings.Builder
	b.WriteString("# " + c.Title + "\n\n")
	for _, m := range c.Messages {
		b.WriteString(m.Role + ": " + m.Content + "\n\n")
	}
	return b.String()
}

// FAEResult is the outcome of parsing one export file.
type FAEResult struct {
	Provider      string
	Conversations []Conversation
}

// faeParser detects and parses one provider's export schema.
type faeParser interface {
	Provider() string
	Detect(data json.RawMessage) bool
	Parse(data json.RawMessage) ([]Conversation, error)
}

// FAEProcessor routes an export file to the right provider parser.
type FAEProcessor struct {
	parsers []faeParser
}

func NewFAEProcessor() *FAEProcessor {
	return &FAEProcessor{parsers: []faeParser{
		&claudeParser{},
		&chatGPTParser{},
		&geminiParser{},
		&grokParser{},
	}}
}

// DetectProvider returns the provider whose schema matches, or "".
func (p *FAEProcessor) DetectProvider(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, parser := range p.parsers {
		if parser.Detect(data) {
			return parser.Provider()
		}
	}
	return ""
}

// Process parses an export file. An unparseable file is an
// ExtractionFailure; an unrecognized schema likewise.
func (p *FAEProcessor) Process(path, provider string) (*FAEResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.TransientIO, "fae", err)
	}
	if !json.Valid(data) {
		return nil, xerrors.Newf(xerrors.ExtractionFailure, "fae", "invalid json: %s", path)
	}

	var parser faeParser
	for _, candidate := range p.parsers {
		if provider != "" && provider != "auto" {
			if candidate.Provider() == provider {
				parser = candidate
				break
			}
			continue
		}
		if candidate.Detect(data) {
			parser = candidate
			break
		}
	}
	if parser == nil {
		return nil, xerrors.Newf(xerrors.ExtractionFailure, "fae", "could not detect provider format: %s", path)
	}
	conversations, err := parser.Parse(data)
	if err != nil {
		return nil, xerrors.New(xerrors.ExtractionFailure, "fae", fmt.Errorf("parse %s export: %w", parser.Provider(), err))
	}
	return &FAEResult{Provider: parser.Provider(), Conversations: conversations}, nil
}

// --- Claude ----------------------------------------------------------------

type claudeParser struct{}

func (p *claudeParser) Provider() string { return "claude" }

type claudeConversation struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	ChatMessages []struct {
		UUID      string `json:"uuid"`
		Sender    string `json:"sender"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"chat_messages"`
}

func (p *claudeParser) Detect(data json.RawMessage) bool {
	var convs []map[string]json.RawMessage
	if err := json.Unmarshal(data, &convs); err != nil || len(convs) == 0 {
		return false
	}
	sample := convs[0]
	for _, key := range []string{"uuid", "name", "created_at", "chat_messages"} {
		if _, ok := sample[key]; !ok {
			return false
		}
	}
	return true
}

func (p *claudeParser) Parse(data json.RawMessage) ([]Conversation, error) {
	var convs []claudeConversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(convs))
	for _, conv := range convs {
		messages := make([]Message, 0, len(conv.ChatMessages))
		for _, msg := range conv.ChatMessages {
			content := msg.Text
			if content == "" {
				var parts []string
				for _, c := range msg.Content {
					if c.Type == "text" && c.Text != "" {
						parts = append(parts, c.Text)
					}
				}
				content = strings.Join(parts, " ")
			}
			role := "assistant"
			if msg.Sender == "human" {
				role = "human"
			}
			messages = append(messages, Message{
				ID:        msg.UUID,
				Role:      role,
				Content:   content,
				Timestamp: parseISOTime(msg.CreatedAt),
			})
		}
		title := conv.Name
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Conversation{
			ID:        conv.UUID,
			Title:     title,
			Provider:  "claude",
			CreatedAt: parseISOTime(conv.CreatedAt),
			UpdatedAt: parseISOTime(conv.UpdatedAt),
			Messages:  messages,
		})
	}
	return out, nil
}

// --- ChatGPT ---------------------------------------------------------------

type chatGPTParser struct{}

func (p *chatGPTParser) Provider() string { return "chatgpt" }

type chatGPTConversation struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	CreateTime float64 `json:"create_time"`
	UpdateTime float64 `json:"update_time"`
	Mapping    map[string]struct {
		Message *struct {
			ID     string `json:"id"`
			Author struct {
				Role string `json:"role"`
			} `json:"author"`
			Content struct {
				Parts []interface{} `json:"parts"`
			} `json:"content"`
			CreateTime float64 `json:"create_time"`
		} `json:"message"`
	} `json:"mapping"`
}

func (p *chatGPTParser) Detect(data json.RawMessage) bool {
	var convs []map[string]json.RawMessage
	if err := json.Unmarshal(data, &convs); err != nil || len(convs) == 0 {
		return false
	}
	_, hasMapping := convs[0]["mapping"]
	_, hasTitle := convs[0]["title"]
	return hasMapping && hasTitle
}

func (p *chatGPTParser) Parse(data json.RawMessage) ([]Conversation, error) {
	var convs []chatGPTConversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(convs))
	for _, conv := range convs {
		var messages []Message
		for nodeID, node := range conv.Mapping {
			msg := node.Message
			if msg == nil {
				continue
			}
			role := msg.Author.Role
			if role != "user" && role != "assistant" && role != "system" {
				continue
			}
			if role == "user" {
				role = "human"
			}
			var parts []string
			for _, part := range msg.Content.Parts {
				if s, ok := part.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
			content := strings.Join(parts, " ")
			if strings.TrimSpace(content) == "" {
				continue
			}
			id := msg.ID
			if id == "" {
				id = nodeID
			}
			messages = append(messages, Message{
				ID:        id,
				Role:      role,
				Content:   content,
				Timestamp: parseUnixTime(msg.CreateTime),
			})
		}
		sort.Slice(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })
		title := conv.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Conversation{
			ID:        conv.ID,
			Title:     title,
			Provider:  "chatgpt",
			CreatedAt: parseUnixTime(conv.CreateTime),
			UpdatedAt: parseUnixTime(conv.UpdateTime),
			Messages:  messages,
		})
	}
	return out, nil
}

// --- Gemini ----------------------------------------------------------------

// geminiParser handles the Google Takeout wrapper shape: a top-level object
// holding a conversations array of {id, title, messages:[{author, text}]}.
type geminiParser struct{}

func (p *geminiParser) Provider() string { return "gemini" }

type geminiExport struct {
	Conversations []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Messages []struct {
			Author    string `json:"author"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		} `json:"messages"`
	} `json:"conversations"`
}

func (p *geminiParser) Detect(data json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return false
	}
	_, hasConvs := obj["conversations"]
	_, hasChats := obj["chats"]
	return hasConvs || hasChats
}

func (p *geminiParser) Parse(data json.RawMessage) ([]Conversation, error) {
	var export geminiExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(export.Conversations))
	for i, conv := range export.Conversations {
		messages := make([]Message, 0, len(conv.Messages))
		for j, msg := range conv.Messages {
			role := "assistant"
			if strings.EqualFold(msg.Author, "user") || strings.EqualFold(msg.Author, "human") {
				role = "human"
			}
			messages = append(messages, Message{
				ID:        fmt.Sprintf("%s_%d", conv.ID, j),
				Role:      role,
				Content:   msg.Text,
				Timestamp: parseISOTime(msg.CreatedAt),
			})
		}
		id := conv.ID
		if id == "" {
			id = fmt.Sprintf("gemini_%d", i)
		}
		title := conv.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Conversation{
			ID:       id,
			Title:    title,
			Provider: "gemini",
			Messages: messages,
		})
	}
	return out, nil
}

// --- Grok ------------------------------------------------------------------

// grokParser recognizes the xAI export shape: an array of objects with a
// conversation_id and a responses array.
type grokParser struct{}

func (p *grokParser) Provider() string { return "grok" }

type grokConversation struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Responses      []struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
		Time    string `json:"create_time"`
	} `json:"responses"`
}

func (p *grokParser) Detect(data json.RawMessage) bool {
	var convs []map[string]json.RawMessage
	if err := json.Unmarshal(data, &convs); err != nil || len(convs) == 0 {
		return false
	}
	_, ok := convs[0]["conversation_id"]
	return ok
}

func (p *grokParser) Parse(data json.RawMessage) ([]Conversation, error) {
	var convs []grokConversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(convs))
	for _, conv := range convs {
		messages := make([]Message, 0, len(conv.Responses))
		for j, resp := range conv.Responses {
			role := "assistant"
			if strings.EqualFold(resp.Sender, "human") || strings.EqualFold(resp.Sender, "user") {
				role = "human"
			}
			messages = append(messages, Message{
				ID:        fmt.Sprintf("%s_%d", conv.ConversationID, j),
				Role:      role,
				Content:   resp.Message,
				Timestamp: parseISOTime(resp.Time),
			})
		}
		title := conv.Title
		if title == "" {
			title = "Untitled"
		}
		out = append(out, Conversation{
			ID:       conv.ConversationID,
			Title:    title,
			Provider: "grok",
			Messages: messages,
		})
	}
	return out, nil
}

func parseISOTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseUnixTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
