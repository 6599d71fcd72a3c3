package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModelName = "gemini-1.5-flash-latest"

	analysisSystemInstruction = "You are a data analyst answering questions about a driver license application dataset. " +
		"Use the dataset rows provided in the context when they are relevant. " +
		"Start with a one-paragraph summary, then list key findings as lines starting with '- '. " +
		"If the context is insufficient, say so. Do not make up numbers."
)

// LLMService answers analysis queries with Gemini. It serves the gemini-*
// models of the model selector.
type LLMService struct {
	client    *genai.Client
	grounding *GroundingService
}

func NewLLMService(ctx context.Context, apiKey string, grounding *GroundingService) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &LLMService{
		client:    client,
		grounding: grounding,
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (s *LLMService) GetChatCompletion(ctx context.Context, modelName string, promptHistory []*genai.Content) (string, error) {
	if len(promptHistory) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}

	lastUserMessage := promptHistory[len(promptHistory)-1]
	if lastUserMessage.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := s.client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(analysisSystemInstruction)},
	}

	chatSession := model.StartChat()
	chatSession.History = promptHistory[:len(promptHistory)-1]

	resp, err := chatSession.SendMessage(ctx, lastUserMessage.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response was empty or had no valid candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}

	if responseText.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return responseText.String(), nil
}

func (s *LLMService) Analyze(ctx context.Context, req AnalysisRequest) AnalysisResult {
	modelName := defaultGeminiModelName
	if strings.HasPrefix(req.Model, "gemini-") {
		modelName = req.Model
	}

	prompt, rowCount := s.grounding.BuildPrompt(req)
	text, err := s.GetChatCompletion(ctx, modelName, prompt)
	if err != nil {
		return failuref("%v", err)
	}
	return newSuccess(ParseInsightText(text), nil, rowCount)
}

// ParseInsightText splits a model answer into the summary paragraph and the
// "- " bullet lines that follow it.
func ParseInsightText(text string) Insight {
	var summary []string
	findings := []string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			findings = append(findings, strings.TrimSpace(trimmed[2:]))
		case trimmed != "" && len(findings) == 0:
			summary = append(summary, trimmed)
		}
	}
	return Insight{Summary: strings.Join(summary, " "), KeyFindings: findings}
}
