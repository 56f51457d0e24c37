package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// genaiBackend talks to the Gemini API. It keeps one SDK client per
// credential and one persistent chat per session ID. Chats are created
// with whichever credential the rotation lands on and are never evicted;
// the unbounded map is an accepted memory-growth tradeoff for a
// long-running companion process.
type genaiBackend struct {
	clients []*genai.Client
	model   string

	mu    sync.Mutex
	chats map[string]*genai.Chat
}

func newGenaiBackend(ctx context.Context, apiKeys []string, model string, httpClient *http.Client) (*genaiBackend, error) {
	clients := make([]*genai.Client, 0, len(apiKeys))
	for i, key := range apiKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     key,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client %d: %w", i, err)
		}
		clients = append(clients, client)
	}
	return &genaiBackend{
		clients: clients,
		model:   model,
		chats:   make(map[string]*genai.Chat),
	}, nil
}

func (b *genaiBackend) Generate(ctx context.Context, cred int, sessionID string, seed []*genai.Content, systemInstruction string, parts []*genai.Part) (string, error) {
	chat, err := b.session(ctx, cred, sessionID, seed, systemInstruction)
	if err != nil {
		return "", err
	}

	resp, err := chat.SendMessage(ctx, derefParts(parts)...)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (b *genaiBackend) Decide(ctx context.Context, cred int, recent []*genai.Content, systemInstruction, prompt string) (string, error) {
	history := append(seedContents(systemInstruction), recent...)
	chat, err := b.clients[cred].Chats.Create(ctx, b.model, decideConfig(), history)
	if err != nil {
		return "", err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// session returns the persistent chat for sessionID, creating it on first
// use seeded with the system instruction, its acknowledgment, and any
// prior turns.
func (b *genaiBackend) session(ctx context.Context, cred int, sessionID string, seed []*genai.Content, systemInstruction string) (*genai.Chat, error) {
	b.mu.Lock()
	chat, ok := b.chats[sessionID]
	b.mu.Unlock()
	if ok {
		return chat, nil
	}

	slog.Debug("starting chat session", "session", sessionID, "cred", cred)
	history := append(seedContents(systemInstruction), seed...)
	chat, err := b.clients[cred].Chats.Create(ctx, b.model, generateConfig(), history)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.chats[sessionID] = chat
	b.mu.Unlock()
	return chat, nil
}

func seedContents(systemInstruction string) []*genai.Content {
	return []*genai.Content{
		genai.NewContentFromText(systemInstruction, genai.RoleUser),
		genai.NewContentFromText("Understood.", genai.RoleModel),
	}
}

func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens: 2048,
		SafetySettings:  blockNone(),
	}
}

func decideConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		MaxOutputTokens: 50,
		SafetySettings:  blockNone(),
	}
}

func blockNone() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

func derefParts(parts []*genai.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
