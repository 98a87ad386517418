package json

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fwojciec/margin"
)

// transcriptEnvelope is the v1 wire format for a saved transcript.
type transcriptEnvelope struct {
	Version   int          `json:"version"`
	ID        string       `json:"id"`
	Email     string       `json:"email,omitempty"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	Messages  []messageDTO `json:"messages"`
}

type messageDTO struct {
	Author      string `json:"author"`
	Text        string `json:"text"`
	Complete    bool   `json:"complete"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// MarshalTranscript serializes a Transcript to JSON in v1 envelope format.
func MarshalTranscript(t margin.Transcript) ([]byte, error) {
	env := transcriptEnvelope{
		Version:   1,
		ID:        t.ID,
		Email:     t.Email,
		CreatedAt: t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: t.UpdatedAt.UTC().Format(timeLayout),
		Messages:  make([]messageDTO, len(t.Messages)),
	}
	for i, m := range t.Messages {
		switch m.Author {
		case margin.AuthorUser, margin.AuthorAssistant:
		default:
			return nil, fmt.Errorf("message %d: unknown author %q", i, m.Author)
		}
		env.Messages[i] = messageDTO{
			Author:      string(m.Author),
			Text:        m.Text,
			Complete:    m.Complete,
			Interrupted: m.Interrupted,
		}
	}
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalTranscript deserializes a Transcript from JSON in v1 envelope
// format.
func UnmarshalTranscript(data []byte) (margin.Transcript, error) {
	var env transcriptEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return margin.Transcript{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return margin.Transcript{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	created, err := parseTime(env.CreatedAt)
	if err != nil {
		return margin.Transcript{}, fmt.Errorf("created_at: %w", err)
	}
	updated, err := parseTime(env.UpdatedAt)
	if err != nil {
		return margin.Transcript{}, fmt.Errorf("updated_at: %w", err)
	}
	msgs := make([]margin.Message, len(env.Messages))
	for i, dto := range env.Messages {
		author := margin.Author(dto.Author)
		if author != margin.AuthorUser && author != margin.AuthorAssistant {
			return margin.Transcript{}, fmt.Errorf("message %d: unknown author %q", i, dto.Author)
		}
		msgs[i] = margin.Message{
			Author:      author,
			Text:        dto.Text,
			Complete:    dto.Complete,
			Interrupted: dto.Interrupted,
		}
	}
	return margin.Transcript{
		ID:        env.ID,
		Email:     env.Email,
		CreatedAt: created,
		UpdatedAt: updated,
		Messages:  msgs,
	}, nil
}

// SaveTranscript writes a Transcript to a JSON file.
func SaveTranscript(path string, t margin.Transcript) error {
	data, err := MarshalTranscript(t)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return writeFile(path, data)
}

// LoadTranscript reads a Transcript from a JSON file.
func LoadTranscript(path string) (margin.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return margin.Transcript{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalTranscript(data)
}
