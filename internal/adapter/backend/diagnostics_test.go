package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/quicksight"
	qstypes "github.com/aws/aws-sdk-go-v2/service/quicksight/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
)

type fakeIdentity struct {
	arn string
	err error
}

func (f *fakeIdentity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String(f.arn),
		UserId:  aws.String("AIDAEXAMPLE"),
	}, nil
}

type fakeDirectory struct {
	describe    *quicksight.DescribeUserInput
	userErr     error
	topicPages  [][]qstypes.TopicSummary
	topicsErr   error
	topicCalls  int
	topicTokens []string
}

func (f *fakeDirectory) DescribeUser(_ context.Context, params *quicksight.DescribeUserInput, _ ...func(*quicksight.Options)) (*quicksight.DescribeUserOutput, error) {
	f.describe = params
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &quicksight.DescribeUserOutput{User: &qstypes.User{
		UserName:     params.UserName,
		Arn:          aws.String("arn:aws:quicksight:us-east-1:123456789012:user/default/" + aws.ToString(params.UserName)),
		Role:         qstypes.UserRoleAuthor,
		IdentityType: qstypes.IdentityTypeIam,
		Active:       true,
	}}, nil
}

func (f *fakeDirectory) ListTopics(_ context.Context, params *quicksight.ListTopicsInput, _ ...func(*quicksight.Options)) (*quicksight.ListTopicsOutput, error) {
	if f.topicsErr != nil {
		return nil, f.topicsErr
	}
	f.topicTokens = append(f.topicTokens, aws.ToString(params.NextToken))
	i := f.topicCalls
	f.topicCalls++
	out := &quicksight.ListTopicsOutput{}
	if i < len(f.topicPages) {
		out.TopicsSummaries = f.topicPages[i]
	}
	if i+1 < len(f.topicPages) {
		out.NextToken = aws.String("page-2")
	}
	return out, nil
}

func TestUserInfoFound(t *testing.T) {
	dir := &fakeDirectory{}
	d := newDiagnosticsWithClients(
		&fakeIdentity{arn: "arn:aws:sts::123456789012:assumed-role/QuickSightRole/alice"},
		dir, "123456789012", config.QuickSightConfig{Namespace: "default"}, metrics.New(), newTestLogger())

	info, err := d.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserStatusFound, info.Status)
	assert.Equal(t, "123456789012", info.Identity.Account)
	require.NotNil(t, info.QuickSightUser)
	assert.Equal(t, "alice", info.QuickSightUser.UserName)
	assert.Equal(t, "AUTHOR", info.QuickSightUser.Role)
	assert.Equal(t, "alice", aws.ToString(dir.describe.UserName))
	assert.Equal(t, "default", aws.ToString(dir.describe.Namespace))
}

func TestUserInfoPrefersConfiguredUserARN(t *testing.T) {
	dir := &fakeDirectory{}
	d := newDiagnosticsWithClients(
		&fakeIdentity{arn: "arn:aws:iam::123456789012:user/deployer"},
		dir, "", config.QuickSightConfig{
			Namespace: "default",
			UserARN:   "arn:aws:quicksight:us-east-1:123456789012:user/default/QuickSightRole/alice",
		}, nil, newTestLogger())

	_, err := d.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "QuickSightRole/alice", aws.ToString(dir.describe.UserName))
	// Falls back to the caller's account when none is configured.
	assert.Equal(t, "123456789012", aws.ToString(dir.describe.AwsAccountId))
}

func TestUserInfoMissingUserIsReported(t *testing.T) {
	d := newDiagnosticsWithClients(
		&fakeIdentity{arn: "arn:aws:iam::123456789012:user/bob"},
		&fakeDirectory{userErr: &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "user bob not found"}},
		"123456789012", config.QuickSightConfig{}, nil, newTestLogger())

	info, err := d.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UserStatusNotFound, info.Status)
	assert.Nil(t, info.QuickSightUser)
	assert.Contains(t, info.Error, "ResourceNotFoundException")
}

func TestUserInfoInvalidCredentials(t *testing.T) {
	d := newDiagnosticsWithClients(
		&fakeIdentity{err: &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "expired"}},
		&fakeDirectory{}, "123456789012", config.QuickSightConfig{}, nil, newTestLogger())

	_, err := d.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestTopicsFollowsPages(t *testing.T) {
	dir := &fakeDirectory{topicPages: [][]qstypes.TopicSummary{
		{{TopicId: aws.String("t1"), Name: aws.String("Sales")}},
		{{TopicId: aws.String("t2"), Name: aws.String("Ops")}},
	}}
	d := newDiagnosticsWithClients(&fakeIdentity{}, dir, "123456789012", config.QuickSightConfig{}, nil, newTestLogger())

	topics, err := d.Topics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Sales", topics[0].Name)
	assert.Equal(t, "t2", topics[1].TopicID)
	assert.Equal(t, []string{"", "page-2"}, dir.topicTokens)
}

func TestQuickSightUserName(t *testing.T) {
	tests := []struct {
		arn, namespace, want string
	}{
		{"arn:aws:quicksight:us-east-1:1:user/default/alice", "default", "alice"},
		{"arn:aws:quicksight:us-east-1:1:user/default/Role/session", "default", "Role/session"},
		{"arn:aws:quicksight:us-east-1:1:user/team/alice", "default", ""},
		{"", "default", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quickSightUserName(tt.arn, tt.namespace), tt.arn)
	}
}

type stubDiagnoser struct {
	info   UserInfo
	topics []Topic
	err    error
}

func (s *stubDiagnoser) UserInfo(context.Context) (UserInfo, error) { return s.info, s.err }
func (s *stubDiagnoser) Topics(context.Context) ([]Topic, error) { return s.topics, s.err }

func diagnosticsServer(t *testing.T, diag Diagnoser) *httptest.Server {
	t.Helper()
	s := NewServer(Options{
		Backend:     config.BackendConfig{CORSOrigins: []string{"*"}, RequestsPerMin: 600, BurstSize: 100},
		SDKSrc:      config.DefaultSDKSrc,
		Container:   "#experience-container",
		Diagnostics: diag,
	}, &stubChat{}, &stubIssuer{}, nil, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func TestUserInfoEndpoint(t *testing.T) {
	srv := diagnosticsServer(t, &stubDiagnoser{info: UserInfo{
		Identity:       Identity{Arn: "arn:aws:iam::1:user/alice"},
		QuickSightUser: &QuickSightUser{UserName: "alice"},
		Status:         UserStatusFound,
	}})

	resp, err := http.Get(srv.URL + "/api/quicksight/user-info")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got UserInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, UserStatusFound, got.Status)
	require.NotNil(t, got.QuickSightUser)
	assert.Equal(t, "alice", got.QuickSightUser.UserName)
}

func TestListTopicsEndpoint(t *testing.T) {
	srv := diagnosticsServer(t, &stubDiagnoser{topics: []Topic{{TopicID: "t1", Name: "Sales"}}})

	resp, err := http.Get(srv.URL + "/api/quicksight/list-topics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got topicsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "Sales", got.Topics[0].Name)
}

func TestDiagnosticsEndpointErrors(t *testing.T) {
	err := domain.NewSubSystemError("quicksight", "backend.Topics",
		domain.WithCause(domain.ErrAuthInvalid, accessDenied()), "AWS Error (AccessDeniedException): not allowed")
	srv := diagnosticsServer(t, &stubDiagnoser{err: err})

	resp, err2 := http.Get(srv.URL + "/api/quicksight/list-topics")
	require.NoError(t, err2)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDiagnosticsRoutesAbsentWithoutDiagnoser(t *testing.T) {
	srv, _ := testServer(t, &stubChat{}, &stubIssuer{})
	resp, err := http.Get(srv.URL + "/api/quicksight/user-info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
