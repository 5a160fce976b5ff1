package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Credentials holds database login details kept outside the main config.
type Credentials struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// LoadCredentials reads the block stored under key in a YAML credentials file.
func LoadCredentials(path, key string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials file %q: %w", path, err)
	}

	var sections map[string]Credentials
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials file %q: %w", path, err)
	}

	creds, ok := sections[key]
	if !ok {
		return Credentials{}, fmt.Errorf("credentials file %q has no %q section", path, key)
	}
	if creds.Host == "" || creds.Database == "" || creds.User == "" {
		return Credentials{}, fmt.Errorf("credentials section %q requires host, database and user", key)
	}
	return creds, nil
}

// PostgresDSN renders the credentials as a postgres:// connection URL.
func (c Credentials) PostgresDSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

// ResolveDSN returns the configured DSN, falling back to the credentials file.
func (p PostgresConfig) ResolveDSN() (string, error) {
	if p.DSN != "" {
		return p.DSN, nil
	}
	creds, err := LoadCredentials(p.CredentialsFile, p.CredentialsKey)
	if err != nil {
		return "", err
	}
	return creds.PostgresDSN(), nil
}
