package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stratushq/stratus/pkg/models"
)

// systemPrompt frames the model as an SRE assistant and pins the JSON
// contract for single-incident responses.
const systemPrompt = `You are an SRE assistant analyzing production incidents.
Propose the most likely root causes for the incident you are given, ordered by
descending confidence. Respond with JSON only, no prose:
{"hypotheses": [{"claim": "...", "description": "...",
"confidence_score": 0.0-1.0, "supporting_evidence": ["..."]}]}`

// batchSystemPrompt pins the JSON contract when several incidents share
// one call. Each incident must be analyzed independently.
const batchSystemPrompt = `You are an SRE assistant analyzing production incidents.
You will receive several unrelated incidents. Analyze each one independently and
propose its most likely root causes, ordered by descending confidence.
Respond with JSON only, no prose:
{"incidents": [{"incident_id": "...", "hypotheses": [{"claim": "...",
"description": "...", "confidence_score": 0.0-1.0,
"supporting_evidence": ["..."]}]}]}`

// maxPromptDescription bounds how much of an incident description goes
// into the prompt.
const maxPromptDescription = 2000

// MessagesClient captures the subset of the Anthropic SDK used here.
// It is satisfied by *sdk.MessageService; tests substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider calls the Claude Messages API.
type AnthropicProvider struct {
	msg   MessagesClient
	model string
}

// NewAnthropicProvider builds a provider over the default Anthropic
// HTTP client.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{msg: &ac.Messages, model: model}
}

// NewAnthropicProviderForClient wires a caller-supplied messages
// client, used by tests.
func NewAnthropicProviderForClient(msg MessagesClient, model string) *AnthropicProvider {
	return &AnthropicProvider{msg: msg, model: model}
}

// Model implements Provider.
func (p *AnthropicProvider) Model() string { return p.model }

// GenerateHypotheses implements Provider.
func (p *AnthropicProvider) GenerateHypotheses(ctx context.Context, incident *models.Incident, maxTokens int) ([]Candidate, Usage, error) {
	text, usage, err := p.complete(ctx, systemPrompt, incidentPrompt(incident), maxTokens)
	if err != nil {
		return nil, usage, err
	}

	var body struct {
		Hypotheses []Candidate `json:"hypotheses"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &body); err != nil {
		return nil, usage, fmt.Errorf("unparseable model response: %w", err)
	}
	return body.Hypotheses, usage, nil
}

// GenerateBatch implements Provider.
func (p *AnthropicProvider) GenerateBatch(ctx context.Context, incidents []*models.Incident, maxTokens int) (map[string][]Candidate, Usage, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze these %d incidents independently.\n", len(incidents))
	for i, incident := range incidents {
		fmt.Fprintf(&sb, "\nIncident %d (incident_id %q):\n%s", i+1, incident.ID, incidentPrompt(incident))
	}

	text, usage, err := p.complete(ctx, batchSystemPrompt, sb.String(), maxTokens)
	if err != nil {
		return nil, usage, err
	}

	var body struct {
		Incidents []struct {
			IncidentID string      `json:"incident_id"`
			Hypotheses []Candidate `json:"hypotheses"`
		} `json:"incidents"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &body); err != nil {
		return nil, usage, fmt.Errorf("unparseable batch response: %w", err)
	}

	out := make(map[string][]Candidate, len(body.Incidents))
	for _, entry := range body.Incidents {
		out[entry.IncidentID] = entry.Hypotheses
	}
	return out, usage, nil
}

// complete issues one Messages API call and concatenates the text
// blocks of the response.
func (p *AnthropicProvider) complete(ctx context.Context, system, prompt string, maxTokens int) (string, Usage, error) {
	msg, err := p.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", usage, errors.New("anthropic: empty completion")
	}
	return sb.String(), usage, nil
}

// incidentPrompt renders the compact incident context sent to the
// model.
func incidentPrompt(incident *models.Incident) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", incident.Title)
	if incident.Service != "" {
		fmt.Fprintf(&sb, "Service: %s\n", incident.Service)
	}
	fmt.Fprintf(&sb, "Severity: %s\n", incident.Severity)
	if incident.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", truncate(incident.Description, maxPromptDescription))
	}
	return sb.String()
}

// stripFences unwraps the ```json fencing some completions add around
// JSON bodies.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the info string on the opening fence
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
