package analysis

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

// VertexProvider runs prompts on Gemini through Vertex AI.
type VertexProvider struct {
	client    *vertexgenai.Client
	modelName string
}

func NewVertexProvider(ctx context.Context, projectID, location, modelName string) (*VertexProvider, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexProvider{client: c, modelName: modelName}, nil
}

func (v *VertexProvider) Name() string { return "vertex" }

func (v *VertexProvider) Close() error { return v.client.Close() }

func (v *VertexProvider) Complete(ctx context.Context, system, user string) (string, error) {
	model := v.client.GenerativeModel(v.modelName)
	model.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(system)}}

	var out strings.Builder
	it := model.GenerateContentStream(ctx, vertexgenai.Text(user))
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", err
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					out.WriteString(string(t))
				}
			}
		}
	}
	if out.Len() == 0 {
		return "", errors.New("gemini returned no text")
	}
	return out.String(), nil
}
