package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want RedisConnection
	}{
		{
			name: "host only",
			raw:  "redis://localhost",
			want: RedisConnection{Host: "localhost", Port: 6379},
		},
		{
			name: "host and port",
			raw:  "redis://cache.internal:6380",
			want: RedisConnection{Host: "cache.internal", Port: 6380},
		},
		{
			name: "password only",
			raw:  "redis://:s3cret@localhost:6379",
			want: RedisConnection{Host: "localhost", Port: 6379, Password: "s3cret"},
		},
		{
			name: "user password and db",
			raw:  "redis://app:pw@10.0.0.5:6379/2",
			want: RedisConnection{Host: "10.0.0.5", Port: 6379, Username: "app", Password: "pw", DB: 2},
		},
		{
			name: "tls",
			raw:  "rediss://default:pw@managed.example.com:25061",
			want: RedisConnection{Host: "managed.example.com", Port: 25061, Username: "default", Password: "pw", TLS: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRedisURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRedisURL_Invalid(t *testing.T) {
	for _, raw := range []string{
		"http://localhost:6379",
		"redis://",
		"redis://localhost:notaport",
		"redis://localhost:6379/x",
		"redis://localhost:70000",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseRedisURL(raw)
			assert.Error(t, err)
		})
	}
}

func TestRedisConnection_Options(t *testing.T) {
	conn, err := ParseRedisURL("rediss://u:p@example.com:6390/3")
	require.NoError(t, err)

	opts := conn.Options()
	assert.Equal(t, "example.com:6390", opts.Addr)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.Equal(t, 3, opts.DB)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "example.com", opts.TLSConfig.ServerName)
}
