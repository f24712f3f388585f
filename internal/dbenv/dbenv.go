// Package dbenv resolves Postgres connection settings from the process environment.
package dbenv

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

const (
	defaultPort    = 5432
	defaultSSLMode = "require"
)

// ErrMissingParams is returned when neither DATABASE_URL nor the DB_* set is complete.
var ErrMissingParams = errors.New("database parameters missing")

// Params are the discrete connection parameters (DB_NAME, DB_HOST, ...).
type Params struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// FromEnv overlays DATABASE_URL and DB_* variables onto base. Unset variables keep
// base values.
func FromEnv(base Params) (Params, error) {
	p := base

	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		p.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_NAME")); v != "" {
		p.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_HOST")); v != "" {
		p.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_USER")); v != "" {
		p.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		p.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_SSLMODE")); v != "" {
		p.SSLMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return p, fmt.Errorf("invalid DB_PORT: %s", v)
		}
		p.Port = port
	}

	if p.Port == 0 {
		p.Port = defaultPort
	}
	if p.SSLMode == "" {
		p.SSLMode = defaultSSLMode
	}
	return p, nil
}

// DSN returns a pgx connection string. DATABASE_URL wins over the discrete params.
func (p Params) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}

	var missing []string
	if p.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if p.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if p.User == "" {
		missing = append(missing, "DB_USER")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: set DATABASE_URL or %s", ErrMissingParams, strings.Join(missing, ", "))
	}

	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:     "/" + p.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String(), nil
}
