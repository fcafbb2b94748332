package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadClientDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_BASE_URL", "http://api.local/api/v1/")
	t.Setenv("CREDENTIAL_STORE", "")

	cfg, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, "http://api.local/api/v1", cfg.APIBaseURL)
	require.Equal(t, StoreFile, cfg.CredentialStore)
	require.Equal(t, 60*time.Second, cfg.OTPCooldown)
	require.False(t, cfg.RTL)
}

func TestLoadClientRejectsUnknownStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CREDENTIAL_STORE", "cookie")

	_, err := LoadClient()
	require.ErrorContains(t, err, "CREDENTIAL_STORE")
}

func TestLoadClientParsesFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CREDENTIAL_STORE", "REDIS")
	t.Setenv("UI_RTL", "true")
	t.Setenv("OTP_COOLDOWN", "bogus")

	cfg, err := LoadClient()
	require.NoError(t, err)
	require.Equal(t, StoreRedis, cfg.CredentialStore)
	require.True(t, cfg.RTL)
	require.Equal(t, 60*time.Second, cfg.OTPCooldown)
}

func TestLoadServerRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "")

	_, err := LoadServer()
	require.ErrorContains(t, err, "JWT_SECRET")
}

func TestServerValidate(t *testing.T) {
	cfg := &ServerConfig{
		ServerPort:     "8080",
		RequestTimeout: time.Second,
		JWTSecret:      "secret",
		JWTAccessTTL:   time.Minute,
		JWTRefreshTTL:  time.Hour,
		OTPTTL:         time.Minute,
		FixedOTP:       "123",
	}
	require.ErrorContains(t, cfg.Validate(), "STUB_FIXED_OTP")

	cfg.FixedOTP = "123456"
	require.NoError(t, cfg.Validate())
}

func TestSplitCSV(t *testing.T) {
	require.Nil(t, splitCSV("  "))
	require.Equal(t, []string{"a", "b"}, splitCSV(" a, ,b "))
}
