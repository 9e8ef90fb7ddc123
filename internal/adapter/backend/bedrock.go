package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
	"quickchat/internal/infra/tracer"
)

// converseAPI abstracts the Bedrock runtime method used for testability.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Responder answers chat messages with the Bedrock Converse API, keeping a
// bounded conversation history per user in memory.
type Responder struct {
	client  converseAPI
	cfg     config.BedrockConfig
	breaker *breaker[*bedrockruntime.ConverseOutput]
	logger  *slog.Logger

	mu        sync.Mutex
	histories map[string][]types.Message
}

// NewResponder creates a Responder from a loaded AWS config.
func NewResponder(awsCfg aws.Config, cfg config.BedrockConfig, cb config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Responder {
	return newResponderWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg, cb, m, logger)
}

func newResponderWithClient(client converseAPI, cfg config.BedrockConfig, cb config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Responder {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Responder{
		client:    client,
		cfg:       cfg,
		breaker:   newBreaker[*bedrockruntime.ConverseOutput]("bedrock", cb, m, logger),
		logger:    logger,
		histories: make(map[string][]types.Message),
	}
}

// Reply sends text on behalf of userID and returns the model's answer. The
// exchange joins the user's history only when it succeeds.
func (r *Responder) Reply(ctx context.Context, userID, text string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "bedrock.converse")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("bedrock.model", r.cfg.Model))

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.NewDomainError("backend.Reply", domain.ErrInvalidInput, "message is required")
	}

	userMsg := types.Message{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
	}

	r.mu.Lock()
	history := append(append([]types.Message(nil), r.histories[userID]...), userMsg)
	r.mu.Unlock()

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(r.cfg.Model),
		Messages: history,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(r.cfg.MaxTokens)),
		},
	}
	if r.cfg.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: r.cfg.SystemPrompt},
		}
	}

	out, err := r.breaker.execute(func() (*bedrockruntime.ConverseOutput, error) {
		out, err := r.client.Converse(ctx, input)
		if err != nil {
			return nil, mapAWSError("bedrock", "backend.Reply", err)
		}
		return out, nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	reply := replyText(out)
	if reply == "" {
		err := domain.NewSubSystemError("bedrock", "backend.Reply", domain.ErrProviderError, "model returned no text")
		tracer.RecordError(span, err)
		return "", err
	}

	r.mu.Lock()
	h := append(r.histories[userID], userMsg, types.Message{
		Role:    types.ConversationRoleAssistant,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: reply}},
	})
	r.histories[userID] = trimHistory(h, r.cfg.HistoryLimit)
	r.mu.Unlock()

	if out.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("bedrock.input_tokens", int(aws.ToInt32(out.Usage.InputTokens))),
			tracer.IntAttr("bedrock.output_tokens", int(aws.ToInt32(out.Usage.OutputTokens))),
		)
	}
	tracer.SetOK(span)
	r.logger.Debug("chat reply generated", "user_id", userID, "reply_len", len(reply))
	return reply, nil
}

// History returns a copy of userID's stored conversation.
func (r *Responder) History(userID string) []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Message(nil), r.histories[userID]...)
}

// trimHistory keeps at most limit messages, dropping whole exchanges from the
// front so the history still opens with a user turn.
func trimHistory(h []types.Message, limit int) []types.Message {
	for len(h) > limit && len(h) >= 2 {
		h = h[2:]
	}
	return h
}

func replyText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			parts = append(parts, t.Value)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// String describes the responder for startup logs.
func (r *Responder) String() string {
	return fmt.Sprintf("bedrock(%s)", r.cfg.Model)
}
