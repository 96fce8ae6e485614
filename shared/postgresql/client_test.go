package postgresql

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantUser  string
		wantQuery url.Values
	}{
		{
			name: "defaults to sslmode disable",
			config: Config{
				Host: "localhost", Port: 5432, User: "relay", Password: "secret", Database: "speech_relay",
			},
			wantUser:  "relay",
			wantQuery: url.Values{"sslmode": {"disable"}},
		},
		{
			name: "escapes password and sets timeout",
			config: Config{
				Host: "db", Port: 6543, User: "relay", Password: "p@ss/word", Database: "speech_relay",
				SSLMode: "require", ConnectTimeout: 3 * time.Second,
			},
			wantUser:  "relay",
			wantQuery: url.Values{"sslmode": {"require"}, "connect_timeout": {"3"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.config.DSN())
			require.NoError(t, err)

			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, tt.wantUser, u.User.Username())
			password, _ := u.User.Password()
			assert.Equal(t, tt.config.Password, password)
			assert.Equal(t, tt.config.Host, u.Hostname())
			assert.Equal(t, "/"+tt.config.Database, u.Path)
			assert.Equal(t, tt.wantQuery, u.Query())
		})
	}
}
