package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const defaultPostgresPort = 5432

// ParsedDatabaseURL is a postgres:// URL broken into libpq fields.
type ParsedDatabaseURL struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Options  map[string]string
}

// ParseDatabaseURL accepts postgres:// and postgresql:// URLs.
// Query parameters other than sslmode are carried in Options.
func ParseDatabaseURL(rawURL string) (*ParsedDatabaseURL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
	default:
		return nil, fmt.Errorf("invalid database URL scheme: %s (expected postgres or postgresql)", u.Scheme)
	}

	parsed := &ParsedDatabaseURL{
		Host:     u.Hostname(),
		Port:     defaultPostgresPort,
		Database: strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
		Options:  map[string]string{},
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in database URL: %w", err)
		}
		parsed.Port = port
	}

	if u.User != nil {
		parsed.User = u.User.Username()
		parsed.Password, _ = u.User.Password()
	}

	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "sslmode" {
			parsed.SSLMode = values[0]
			continue
		}
		parsed.Options[key] = values[0]
	}

	return parsed, nil
}

// ToDSN renders the key=value form lib/pq expects. Extra options are
// appended in key order so the output is stable.
func (p *ParsedDatabaseURL) ToDSN() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)

	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, p.Options[k])
	}
	return b.String()
}

// ToURL renders the components back into a postgres:// URL.
func (p *ParsedDatabaseURL) ToURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}
