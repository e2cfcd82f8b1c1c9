package platforms

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewatch/bigcases-bot/src/shared/types"
)

func TestPermanentClassification(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("connection reset")))
	assert.True(t, IsPermanent(Permanent(errors.New("duplicate status"))))
	assert.True(t, IsPermanent(fmt.Errorf("post: %w", Permanent(errors.New("rejected")))))
	assert.NoError(t, Permanent(nil))
}

func TestStatusErr(t *testing.T) {
	assert.True(t, IsPermanent(statusErr(400, "post", nil)))
	assert.True(t, IsPermanent(statusErr(422, "post", nil)))
	assert.False(t, IsPermanent(statusErr(429, "post", nil)), "rate limits are transient")
	assert.False(t, IsPermanent(statusErr(500, "post", nil)))
	assert.False(t, IsPermanent(statusErr(503, "post", nil)))
}

func TestForChannel(t *testing.T) {
	for _, service := range []int{types.ServiceMastodon, types.ServiceTwitter, types.ServiceThreads} {
		poster, err := ForChannel(&types.Channel{ID: 1, Service: service})
		require.NoError(t, err, "service %d", service)
		assert.NotNil(t, poster)
	}

	_, err := ForChannel(&types.Channel{ID: 1, Service: 99})
	assert.Error(t, err)
}
