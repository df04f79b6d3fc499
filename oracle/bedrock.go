package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	// DefaultMaxTokens bounds the length of a model answer
	DefaultMaxTokens = 512
)

// InvokeModelAPI is the part of the Bedrock runtime client used by
// BedrockOracle
type InvokeModelAPI interface {
	InvokeModel(
		ctx context.Context,
		params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options),
	) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOracle completes prompts with an Anthropic model hosted on AWS
// Bedrock
type BedrockOracle struct {
	client    InvokeModelAPI
	modelID   string
	maxTokens int
}

// NewBedrockOracle builds a Bedrock runtime client from the default AWS
// credential chain for the given region.
func NewBedrockOracle(ctx context.Context, region, modelID string) (*BedrockOracle, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("oracle.NewBedrockOracle: %w", err)
	}
	return NewBedrockOracleWithClient(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

// NewBedrockOracleWithClient uses an existing client
func NewBedrockOracleWithClient(client InvokeModelAPI, modelID string) *BedrockOracle {
	return &BedrockOracle{client: client, modelID: modelID, maxTokens: DefaultMaxTokens}
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends one user message and returns the text of the first content
// block of the answer.
func (o *BedrockOracle) Complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        o.maxTokens,
		System:           system,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("BedrockOracle.Complete: %w", err)
	}

	out, err := o.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(o.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("BedrockOracle.Complete: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("BedrockOracle.Complete decoding response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", errors.New("BedrockOracle.Complete: empty response content")
	}
	return resp.Content[0].Text, nil
}
