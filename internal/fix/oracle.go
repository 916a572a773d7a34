package fix

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/raidx545/mend/internal/model"
)

// CorrectionRequest carries everything the oracle needs to propose a
// corrected version of one source file. Failures holds every outstanding
// failure localized to the file, batched into a single request.
type CorrectionRequest struct {
	SourcePath string
	SourceCode string
	TestPath   string
	TestCode   string
	Failures   []model.TestFailure
	RawOutput  string
}

// Oracle proposes corrected file content for a failing source file. The
// response is free-form text; the applier extracts code from it. An error
// means "no fix this round", never a fatal condition.
type Oracle interface {
	ProposeFix(ctx context.Context, req CorrectionRequest) (string, error)
}

const systemPrompt = "You are an expert software engineer. " +
	"When given a failing test and its source code, you fix the SOURCE code " +
	"(never the test) to make the test pass. " +
	"Return ONLY the complete fixed source file inside a single code block. " +
	"No explanations."

// OpenAIOracle calls an OpenAI-compatible chat completions endpoint.
type OpenAIOracle struct {
	client *openai.Client
	model  string
}

// NewOpenAIOracle creates an oracle against the given API key and model.
// A custom base URL supports OpenAI-compatible providers.
func NewOpenAIOracle(apiKey, baseURL, model string) *OpenAIOracle {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIOracle{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIOracle) ProposeFix(ctx context.Context, req CorrectionRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildPrompt renders the correction request. All failures for the file are
// listed so one response can address them together.
func buildPrompt(req CorrectionRequest) string {
	errors := ""
	for i, f := range req.Failures {
		errors += fmt.Sprintf("**Error %d** — Test: `%s` | Type: `%s` | Message: %s\n",
			i+1, f.TestName, f.ErrorType, f.ErrorMessage)
	}

	return fmt.Sprintf(`A source file has %d error(s) that need to be fixed ALL AT ONCE.

## All Errors Found
%s
## Test Code (for context)
`+"```"+`
%s
`+"```"+`

## Source Code to Fix (%s)
`+"```"+`
%s
`+"```"+`

## Test Output
`+"```"+`
%s
`+"```"+`

## Instructions
1. Identify ALL %d error(s) listed above in the source code
2. Fix EVERY error in one go — return the complete corrected file
3. Do NOT change function signatures or test logic
4. Keep fixes minimal and targeted to the errors listed
5. Return ONLY the complete fixed source code in a single code block

## Fixed Source Code (all %d errors corrected)
`,
		len(req.Failures), errors,
		clip(req.TestCode, 2000),
		req.SourcePath, req.SourceCode,
		clip(req.RawOutput, 3000),
		len(req.Failures), len(req.Failures))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
