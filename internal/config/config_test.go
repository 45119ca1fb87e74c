package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name:    "missing jwt secret",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "defaults",
			env:  map[string]string{"JWT_SECRET": "secret"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8080", cfg.Port)
				assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL())
				assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL())
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"JWT_SECRET":             "secret",
				"PORT":                   "9999",
				"JWT_EXPIRATION_MINUTES": "5",
				"CORS_ORIGINS":           "http://a.test, http://b.test,",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9999", cfg.Port)
				assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL())
				assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
			},
		},
		{
			name: "invalid int falls back",
			env: map[string]string{
				"JWT_SECRET":             "secret",
				"JWT_EXPIRATION_MINUTES": "soon",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 15, cfg.JWTExpirationMinutes)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Equal(t, StoreRedis, cfg.SessionStore)
		assert.Equal(t, "default", cfg.TabID)
		assert.Equal(t, 2*time.Second, cfg.PollInterval)
		assert.Equal(t, 15*time.Second, cfg.OpTimeout)
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("SESSION_STORE", "cookies")
		_, err := LoadClient()
		assert.Error(t, err)
	})

	t.Run("empty tab", func(t *testing.T) {
		t.Setenv("SESSION_TAB", "")
		_, err := LoadClient()
		assert.Error(t, err)
	})

	t.Run("tab and store from env", func(t *testing.T) {
		t.Setenv("SESSION_TAB", "tab-2")
		t.Setenv("SESSION_STORE", "postgres")
		cfg, err := LoadClient()
		require.NoError(t, err)
		assert.Equal(t, "tab-2", cfg.TabID)
		assert.Equal(t, StorePostgres, cfg.SessionStore)
	})
}
