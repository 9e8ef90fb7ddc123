package backend

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/quicksight"
	"github.com/aws/aws-sdk-go-v2/service/quicksight/types"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
	"quickchat/internal/infra/tracer"
)

// embedURLAPI abstracts the QuickSight method used for testability.
type embedURLAPI interface {
	GenerateEmbedUrlForRegisteredUser(ctx context.Context, params *quicksight.GenerateEmbedUrlForRegisteredUserInput, optFns ...func(*quicksight.Options)) (*quicksight.GenerateEmbedUrlForRegisteredUserOutput, error)
}

// Issuer generates single-use Quick Chat embed URLs for the configured
// registered user.
type Issuer struct {
	client    embedURLAPI
	accountID string
	cfg       config.QuickSightConfig
	breaker   *breaker[string]
	logger    *slog.Logger
}

// NewIssuer creates an Issuer from a loaded AWS config.
func NewIssuer(awsCfg aws.Config, accountID string, cfg config.QuickSightConfig, cb config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Issuer {
	return newIssuerWithClient(quicksight.NewFromConfig(awsCfg), accountID, cfg, cb, m, logger)
}

func newIssuerWithClient(client embedURLAPI, accountID string, cfg config.QuickSightConfig, cb config.CircuitBreakerConfig, m *metrics.Metrics, logger *slog.Logger) *Issuer {
	return &Issuer{
		client:    client,
		accountID: accountID,
		cfg:       cfg,
		breaker:   newBreaker[string]("quicksight", cb, m, logger),
		logger:    logger,
	}
}

// EmbedURL requests a fresh embed URL. Every call yields a new URL.
func (i *Issuer) EmbedURL(ctx context.Context) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "quicksight.generate_embed_url")
	defer span.End()

	input := &quicksight.GenerateEmbedUrlForRegisteredUserInput{
		AwsAccountId: aws.String(i.accountID),
		UserArn:      aws.String(i.cfg.UserARN),
		ExperienceConfiguration: &types.RegisteredUserEmbeddingExperienceConfiguration{
			QuickChat: &types.RegisteredUserQuickChatEmbeddingConfiguration{},
		},
		AllowedDomains: i.cfg.AllowedDomains,
	}
	if i.cfg.SessionLifetimeMinutes > 0 {
		input.SessionLifetimeInMinutes = aws.Int64(i.cfg.SessionLifetimeMinutes)
	}

	url, err := i.breaker.execute(func() (string, error) {
		out, err := i.client.GenerateEmbedUrlForRegisteredUser(ctx, input)
		if err != nil {
			return "", mapAWSError("quicksight", "backend.EmbedURL", err)
		}
		if aws.ToString(out.EmbedUrl) == "" {
			return "", domain.NewSubSystemError("quicksight", "backend.EmbedURL", domain.ErrProviderError, "no embed url in response")
		}
		return aws.ToString(out.EmbedUrl), nil
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	i.logger.Debug("embed url issued", "url", url)
	return url, nil
}
