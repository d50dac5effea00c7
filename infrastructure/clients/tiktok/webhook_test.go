package tiktok

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	t.Run("published without share url", func(t *testing.T) {
		cb, err := ParseCallback([]byte(`{"event":"video.publish.completed","user_openid":"open-1","create_time":1700000000,"content":"{\"item_id\":\"item-9\"}"}`))
		require.NoError(t, err)
		require.NotNil(t, cb)
		assert.True(t, cb.Success)
		assert.Equal(t, "open-1", cb.AccountUID)
		assert.Equal(t, "item-9", cb.ProviderContentID)
		assert.Equal(t, "https://www.tiktok.com/@open-1/video/item-9", cb.WorkLink)
		assert.Equal(t, int64(1700000000), cb.ReceivedAt.Unix())
	})

	t.Run("failed", func(t *testing.T) {
		cb, err := ParseCallback([]byte(`{"event":"video.publish.failed","user_openid":"open-1","content":"{\"item_id\":\"item-9\",\"reason\":\"copyright\"}"}`))
		require.NoError(t, err)
		assert.False(t, cb.Success)
		assert.Equal(t, "copyright", cb.ErrorMessage)
		assert.Empty(t, cb.WorkLink)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		cb, err := ParseCallback([]byte(`{"event":"authorization.removed","user_openid":"open-1"}`))
		require.NoError(t, err)
		assert.Nil(t, cb)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"event":"video.publish.completed","user_openid":"open-1","content":"nope"}`))
		assert.Error(t, err)
		_, err = ParseCallback([]byte(`not json`))
		assert.Error(t, err)
	})
}
