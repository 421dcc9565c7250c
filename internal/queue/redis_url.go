package queue

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPort is used when a Redis URL omits the port
const DefaultRedisPort = 6379

// RedisConnection is a parsed redis:// URL
type RedisConnection struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

// Addr returns host:port
func (c RedisConnection) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the connection into go-redis client options
func (c RedisConnection) Options() *redis.Options {
	opts := &redis.Options{
		Addr:     c.Addr(),
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
	}
	if c.TLS {
		opts.TLSConfig = &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
	}
	return opts
}

// ParseRedisURL parses redis://[user[:pass]@]host[:port][/db]. The port
// defaults to 6379 and the database to 0. rediss:// marks a TLS connection.
func ParseRedisURL(raw string) (RedisConnection, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RedisConnection{}, fmt.Errorf("invalid redis url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return RedisConnection{}, fmt.Errorf("invalid redis url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return RedisConnection{}, fmt.Errorf("redis url has no host")
	}

	conn := RedisConnection{
		Host: u.Hostname(),
		Port: DefaultRedisPort,
		TLS:  u.Scheme == "rediss",
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return RedisConnection{}, fmt.Errorf("invalid redis port %q", p)
		}
		conn.Port = port
	}

	if u.User != nil {
		conn.Username = u.User.Username()
		if pass, ok := u.User.Password(); ok {
			conn.Password = pass
		}
	}

	if path := strings.Trim(u.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil || db < 0 {
			return RedisConnection{}, fmt.Errorf("invalid redis database %q", path)
		}
		conn.DB = db
	}

	return conn, nil
}
