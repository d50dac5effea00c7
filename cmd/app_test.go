package cmd

import (
	"net/http"
	"sort"
	"testing"

	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/lock"

	"github.com/stretchr/testify/assert"
)

func TestLockResource(t *testing.T) {
	key := lock.KeyFor("lock", "publish-task", "t-1")
	assert.Equal(t, "publish-task", lockResource(key))
	assert.Equal(t, "a:b", lockResource("lock:a:b:deadbeef"))
	assert.Equal(t, "plain", lockResource("plain"))
}

func TestAdapters_OnlyEnabledKnownPlatforms(t *testing.T) {
	got := adapters(map[string]configuration.PlatformConfig{
		"YouTube":  {Enabled: true},
		"tiktok":   {Enabled: true},
		"facebook": {Enabled: false},
		"myspace":  {Enabled: true},
	}, http.DefaultClient)

	var names []string
	for _, a := range got {
		names = append(names, a.Platform())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"tiktok", "youtube"}, names)
}

func TestWebhookSecrets(t *testing.T) {
	got := webhookSecrets(map[string]configuration.PlatformConfig{
		"TikTok":   {WebhookSecret: "s1"},
		"facebook": {},
	})
	assert.Equal(t, map[string]string{"tiktok": "s1"}, got)
}

func TestRootRegistersCommands(t *testing.T) {
	cmds := map[string]bool{}
	for _, c := range []string{ServeCmd().Name(), WorkerCmd().Name(), RetryCmd().Name()} {
		cmds[c] = true
	}
	assert.True(t, cmds["serve"])
	assert.True(t, cmds["worker"])
	assert.True(t, cmds["retry"])
}
