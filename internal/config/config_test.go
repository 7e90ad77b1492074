package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMAIL_USERNAME", "bot@example.com")
	t.Setenv("EMAIL_PASSWORD", "secret")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "imap.qq.com:993", c.IMAP.Addr())
	assert.Equal(t, "smtp.qq.com:465", c.SMTP.Addr())
	assert.True(t, c.SMTP.TLS)
	assert.False(t, c.SMTP.StartTLS)
	assert.Equal(t, "bot@example.com", c.IMAP.Username)
	assert.Equal(t, "secret", c.SMTP.Password)
	assert.Equal(t, "bot@example.com", c.SMTP.From)
	assert.Equal(t, 30*time.Second, c.Bridge.PollInterval)
	assert.Equal(t, 3, c.Bridge.MaxRetries)
	assert.Equal(t, time.Hour, c.Executor.Timeout)
	assert.Equal(t, []string{"Total cost:", "会话总结", "Session Summary"}, c.Executor.Markers)
	assert.True(t, filepath.IsAbs(c.Executor.ProjectDir))
	assert.Empty(t, c.Account.Whitelist)
	require.NoError(t, c.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMAIL_USERNAME", "bot@example.com")
	t.Setenv("EMAIL_PASSWORD", "secret")
	t.Setenv("SMTP_USERNAME", "relay@example.com")
	t.Setenv("EMAIL_WHITELIST", "alice@,@corp.example,")
	t.Setenv("POLLING_INTERVAL", "5s")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("SMTP_TLS", "false")
	t.Setenv("SMTP_STARTTLS", "true")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "relay@example.com", c.SMTP.Username)
	assert.Equal(t, "relay@example.com", c.SMTP.From)
	assert.Equal(t, "bot@example.com", c.IMAP.Username)
	assert.Equal(t, []string{"alice@", "@corp.example"}, c.Account.Whitelist)
	assert.Equal(t, 5*time.Second, c.Bridge.PollInterval)
	assert.Equal(t, 7, c.Bridge.MaxRetries)
	assert.False(t, c.SMTP.TLS)
	assert.True(t, c.SMTP.StartTLS)
}

func TestLoadYAMLOverlay(t *testing.T) {
	t.Setenv("EMAIL_USERNAME", "bot@example.com")
	t.Setenv("EMAIL_PASSWORD", "secret")

	dir := t.TempDir()
	file := filepath.Join(dir, "bridge.yaml")
	content := "imap:\n  server: mail.example.com\n  port: 1993\nbridge:\n  max_retries: 1\n  poll_interval: 2m\nexecutor:\n  project_dir: " + dir + "\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	c, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com:1993", c.IMAP.Addr())
	assert.Equal(t, 1, c.Bridge.MaxRetries)
	assert.Equal(t, 2*time.Minute, c.Bridge.PollInterval)
	assert.Equal(t, dir, c.Executor.ProjectDir)
	assert.Equal(t, "smtp.qq.com", c.SMTP.Server)
}

func TestValidate(t *testing.T) {
	t.Setenv("EMAIL_USERNAME", "")
	t.Setenv("EMAIL_PASSWORD", "")

	c, err := Load("")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Validate(), ErrMissingCredentials)

	c.IMAP.Username, c.IMAP.Password = "u", "p"
	c.SMTP.Username, c.SMTP.Password = "u", "p"
	require.NoError(t, c.Validate())

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	c.Executor.ProjectDir = file
	assert.ErrorIs(t, c.Validate(), ErrInvalidProjectDir)

	c.Executor.ProjectDir = t.TempDir()
	c.Bridge.MaxRetries = -1
	assert.Error(t, c.Validate())
}
