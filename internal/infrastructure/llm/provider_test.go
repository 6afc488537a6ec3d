package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"plot-rag-api/internal/application/generation"
)

type fakeChatModel struct {
	gotMessages []*schema.Message
	gotOptions  *model.Options
	reply       *schema.Message
	err         error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.gotMessages = input
	f.gotOptions = model.GetCommonOptions(&model.Options{}, opts...)
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type staticSource struct {
	m   model.BaseChatModel
	err error
}

func (s staticSource) Get(context.Context, string) (model.BaseChatModel, error) {
	return s.m, s.err
}

func TestEinoProviderComplete(t *testing.T) {
	fake := &fakeChatModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "ok",
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3},
		},
	}}
	p := NewEinoProvider(staticSource{m: fake})

	got, err := p.Complete(context.Background(), generation.Call{
		Model:        "fast",
		Prompt:       "write",
		SystemPrompt: "you are",
		Temperature:  0.5,
		MaxTokens:    100,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "ok" || got.Model != "fast" || got.Usage.PromptTokens != 12 || got.Usage.CompletionTokens != 3 {
		t.Fatalf("unexpected completion: %+v", got)
	}
	if len(fake.gotMessages) != 2 || fake.gotMessages[0].Role != schema.System || fake.gotMessages[1].Content != "write" {
		t.Fatalf("unexpected messages: %+v", fake.gotMessages)
	}
	if fake.gotOptions.Model == nil || *fake.gotOptions.Model != "fast" || *fake.gotOptions.MaxTokens != 100 {
		t.Fatalf("options not forwarded: %+v", fake.gotOptions)
	}
}

func TestEinoProviderClassifiesStatusErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind generation.ErrorKind
	}{
		{"api 429", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, generation.KindRateLimited},
		{"api 401", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, generation.KindClientError},
		{"request 503", &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("overloaded")}, generation.KindServerError},
		{"request 408", &openai.RequestError{HTTPStatusCode: 408}, generation.KindTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to create chat completion: %w", tc.err)
			p := NewEinoProvider(staticSource{m: &fakeChatModel{err: wrapped}})
			_, err := p.Complete(context.Background(), generation.Call{Prompt: "x"})
			var ue *generation.UpstreamError
			if !errors.As(err, &ue) || ue.Kind != tc.kind {
				t.Fatalf("got %v", err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("original error lost: %v", err)
			}
		})
	}

	// 状态码只以文本出现时不做猜测
	textual := errors.New("error, status code: 503, message: overloaded")
	p := NewEinoProvider(staticSource{m: &fakeChatModel{err: textual}})
	if _, err := p.Complete(context.Background(), generation.Call{Prompt: "x"}); err != textual {
		t.Fatalf("textual status must not be parsed, got %v", err)
	}

	plain := errors.New("connection reset")
	p = NewEinoProvider(staticSource{m: &fakeChatModel{err: plain}})
	if _, err := p.Complete(context.Background(), generation.Call{Prompt: "x"}); !errors.Is(err, plain) {
		t.Fatalf("unclassified errors pass through, got %v", err)
	}
}

func TestEinoProviderRejectsEmptyPrompt(t *testing.T) {
	p := NewEinoProvider(staticSource{m: &fakeChatModel{}})
	if _, err := p.Complete(context.Background(), generation.Call{Prompt: "  "}); !errors.Is(err, generation.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}
