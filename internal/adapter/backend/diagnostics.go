package backend

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/quicksight"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
	"quickchat/internal/infra/tracer"
)

// Status values reported by UserInfo.
const (
	UserStatusFound    = "User found in QuickSight"
	UserStatusNotFound = "AWS credentials valid, but QuickSight user not found"
)

type identityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type directoryAPI interface {
	DescribeUser(ctx context.Context, params *quicksight.DescribeUserInput, optFns ...func(*quicksight.Options)) (*quicksight.DescribeUserOutput, error)
	quicksight.ListTopicsAPIClient
}

// Identity is the AWS principal the backend runs as.
type Identity struct {
	Account string `json:"account"`
	Arn     string `json:"arn"`
	UserID  string `json:"user_id"`
}

// QuickSightUser is the registered user embed URLs are issued for.
type QuickSightUser struct {
	UserName     string `json:"user_name"`
	Arn          string `json:"arn"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	IdentityType string `json:"identity_type"`
	Active       bool   `json:"active"`
}

// UserInfo answers "are the credentials valid and is there a QuickSight user".
type UserInfo struct {
	Identity       Identity        `json:"aws_identity"`
	QuickSightUser *QuickSightUser `json:"quicksight_user"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
}

// Topic is one QuickSight Q topic.
type Topic struct {
	TopicID string `json:"topic_id"`
	Name    string `json:"name"`
	Arn     string `json:"arn"`
}

// Diagnostics inspects the AWS identity and QuickSight directory behind the
// backend. Calls are not breaker-guarded so they keep working while embed URL
// issuance is failing.
type Diagnostics struct {
	identity  identityAPI
	directory directoryAPI
	accountID string
	cfg       config.QuickSightConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDiagnostics creates Diagnostics from a loaded AWS config.
func NewDiagnostics(awsCfg aws.Config, accountID string, cfg config.QuickSightConfig, m *metrics.Metrics, logger *slog.Logger) *Diagnostics {
	return newDiagnosticsWithClients(sts.NewFromConfig(awsCfg), quicksight.NewFromConfig(awsCfg), accountID, cfg, m, logger)
}

func newDiagnosticsWithClients(identity identityAPI, directory directoryAPI, accountID string, cfg config.QuickSightConfig, m *metrics.Metrics, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{
		identity:  identity,
		directory: directory,
		accountID: accountID,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// UserInfo resolves the caller identity, then looks up the QuickSight user.
// A missing user is reported in the result, not as an error.
func (d *Diagnostics) UserInfo(ctx context.Context) (UserInfo, error) {
	ctx, span := tracer.StartSpan(ctx, "diagnostics.user_info")
	defer span.End()

	out, err := d.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		d.metrics.RecordUpstream("sts", "error")
		err = mapAWSError("sts", "backend.UserInfo", err)
		tracer.RecordError(span, err)
		return UserInfo{}, err
	}
	d.metrics.RecordUpstream("sts", "ok")
	info := UserInfo{Identity: Identity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}}

	name := d.userName(info.Identity.Arn)
	user, err := d.directory.DescribeUser(ctx, &quicksight.DescribeUserInput{
		AwsAccountId: aws.String(d.account(info.Identity.Account)),
		Namespace:    aws.String(d.namespace()),
		UserName:     aws.String(name),
	})
	if err != nil {
		d.metrics.RecordUpstream("quicksight", "error")
		d.logger.Warn("quicksight user lookup failed", "user", name, "error", err)
		info.Status = UserStatusNotFound
		info.Error = mapAWSError("quicksight", "backend.UserInfo", err).Error()
		tracer.SetOK(span)
		return info, nil
	}
	d.metrics.RecordUpstream("quicksight", "ok")
	info.Status = UserStatusFound
	if u := user.User; u != nil {
		info.QuickSightUser = &QuickSightUser{
			UserName:     aws.ToString(u.UserName),
			Arn:          aws.ToString(u.Arn),
			Email:        aws.ToString(u.Email),
			Role:         string(u.Role),
			IdentityType: string(u.IdentityType),
			Active:       u.Active,
		}
	}
	tracer.SetOK(span)
	return info, nil
}

// Topics lists every Q topic in the account.
func (d *Diagnostics) Topics(ctx context.Context) ([]Topic, error) {
	ctx, span := tracer.StartSpan(ctx, "diagnostics.list_topics")
	defer span.End()

	topics := []Topic{}
	pages := quicksight.NewListTopicsPaginator(d.directory, &quicksight.ListTopicsInput{
		AwsAccountId: aws.String(d.accountID),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			d.metrics.RecordUpstream("quicksight", "error")
			err = mapAWSError("quicksight", "backend.Topics", err)
			tracer.RecordError(span, err)
			return nil, err
		}
		for _, t := range page.TopicsSummaries {
			topics = append(topics, Topic{
				TopicID: aws.ToString(t.TopicId),
				Name:    aws.ToString(t.Name),
				Arn:     aws.ToString(t.Arn),
			})
		}
	}
	d.metrics.RecordUpstream("quicksight", "ok")
	tracer.SetOK(span)
	return topics, nil
}

func (d *Diagnostics) account(callerAccount string) string {
	if d.accountID != "" {
		return d.accountID
	}
	return callerAccount
}

func (d *Diagnostics) namespace() string {
	if d.cfg.Namespace != "" {
		return d.cfg.Namespace
	}
	return "default"
}

// userName picks the QuickSight user name to look up: the one in the
// configured user ARN, else the last segment of the caller ARN.
func (d *Diagnostics) userName(callerArn string) string {
	if name := quickSightUserName(d.cfg.UserARN, d.namespace()); name != "" {
		return name
	}
	if i := strings.LastIndex(callerArn, "/"); i >= 0 {
		return callerArn[i+1:]
	}
	return callerArn
}

// quickSightUserName extracts the user name from
// arn:aws:quicksight:<region>:<account>:user/<namespace>/<name>. Federated
// names contain slashes, so everything after the namespace is kept.
func quickSightUserName(arn, namespace string) string {
	marker := ":user/" + namespace + "/"
	if i := strings.Index(arn, marker); i >= 0 {
		return arn[i+len(marker):]
	}
	return ""
}
