package bluesky

import (
	"context"
	"testing"

	"github.com/blacktop/snspost/internal/xpost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMedia(t *testing.T) {
	require.NoError(t, checkMedia(nil))
	require.NoError(t, checkMedia([]string{"1.png", "2.png", "3.webp", "4.gif"}))
	assert.Error(t, checkMedia([]string{"1.png", "2.png", "3.png", "4.png", "5.png"}))
	assert.Error(t, checkMedia([]string{"clip.mov"}))
}

func TestLoadConfigDefaultsPDS(t *testing.T) {
	t.Setenv(envHandle, "me.bsky.social")
	t.Setenv(envAppPassword, "app-pass")
	t.Setenv(envPDSURL, "")

	cfg, err := loadConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPDSURL, cfg.PDSURL)

	cfg, err = loadConfig(Config{PDSURL: "https://pds.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://pds.example", cfg.PDSURL)
}

func TestMissingEnv(t *testing.T) {
	t.Setenv(envHandle, "")
	t.Setenv(envAppPassword, "")
	_, err := New(context.Background(), Config{})
	assert.ErrorIs(t, err, xpost.ErrNotConfigured)
}
