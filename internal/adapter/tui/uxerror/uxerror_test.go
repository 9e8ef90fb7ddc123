package uxerror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"quickchat/internal/domain"
)

func TestHumanizeStageBeforeCause(t *testing.T) {
	err := domain.WithCause(domain.ErrURLAcquisitionFailed, domain.ErrNetwork)
	fe := Humanize(err)
	assert.Equal(t, "Embed Access Failed", fe.Title)
	assert.Equal(t, domain.UserNotice(err), fe.Message)
	assert.NotEmpty(t, fe.Hints)
}

func TestHumanizeRemoteStatus(t *testing.T) {
	fe := Humanize(&domain.RemoteStatusError{StatusCode: 500})
	assert.Equal(t, "Server Error", fe.Title)
	assert.Equal(t, "status 500", fe.Raw)
}

func TestHumanizeFallback(t *testing.T) {
	fe := Humanize(errors.New("weird"))
	assert.Equal(t, "Unexpected Error", fe.Title)
	assert.Contains(t, fe.Render(), "Suggestions:")
}

func TestHumanizeNil(t *testing.T) {
	assert.Equal(t, "Unknown Error", Humanize(nil).Title)
}
