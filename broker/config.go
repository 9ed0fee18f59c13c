package broker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the broker's external configuration, loaded from a
// line-oriented `key: value` file. spec.md §6. Redesigned from the
// teacher's options.go `config` struct, which loaded JSON via
// encoding/json; this format is bespoke to this broker (not YAML/TOML/
// JSON), so a hand-rolled bufio.Scanner parser is used rather than an
// ecosystem config library — no pack repo imports a parser for this exact
// line dialect.
type Config struct {
	ID              string
	IP              string
	Port            uint16
	MaximumThreads  int
	LogPath         string
	LogInTerminal   bool
	AuthFile        string
	TLSIdentity     string
	TLSPassphrase   string
	KeepAliveMax    uint16

	HandshakeTimeout time.Duration
}

// DefaultConfig returns a Config usable for tests and as the base a loaded
// file's values overlay. HandshakeTimeout is not a config-file key (spec.md
// §6's table does not list it); it mirrors the teacher's hardcoded 10s
// handshake timeout in conn.go's serve.
func DefaultConfig() *Config {
	return &Config{
		ID:               "fieldwatchd",
		IP:               "0.0.0.0",
		Port:             1883,
		MaximumThreads:   8,
		LogInTerminal:    true,
		HandshakeTimeout: 10 * time.Second,
	}
}

// requiredKeys are the keys LoadConfig demands be present, per spec.md §6
// ("Missing or unparsable required keys cause startup failure").
var requiredKeys = []string{"id", "ip", "port", "maximum_threads", "log_path"}

// knownKeys is the full recognized set; anything else is rejected, matching
// the original Rust config's set_params "_ => Err(...)" catch-all.
var knownKeys = map[string]bool{
	"id": true, "ip": true, "port": true, "maximum_threads": true,
	"log_path": true, "log_in_terminal": true, "auth_file": true,
	"tls_identity": true, "tls_passphrase": true, "keep_alive_max": true,
}

// LoadConfig parses a `key: value` file, one pair per line, `#` starting a
// comment (stripped to end of line). Unknown keys are rejected; missing
// required keys are rejected.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("broker: config line %d: missing ':' separator", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !knownKeys[key] {
			return nil, fmt.Errorf("%w: %q (line %d)", ErrConfigUnknownKey, key, lineNo)
		}
		if err := cfg.setField(key, value); err != nil {
			return nil, fmt.Errorf("broker: config line %d: %w", lineNo, err)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for _, k := range requiredKeys {
		if !seen[k] {
			return nil, fmt.Errorf("%w: %q", ErrConfigMissingKey, k)
		}
	}
	return cfg, nil
}

// LoadConfigFile opens path and parses it with LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadConfig(f)
}

func (c *Config) setField(key, value string) error {
	switch key {
	case "id":
		c.ID = value
	case "ip":
		c.IP = value
	case "port":
		p, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: port must be u16: %v", ErrConfigInvalidType, err)
		}
		c.Port = uint16(p)
	case "maximum_threads":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: maximum_threads must be a positive int", ErrConfigInvalidType)
		}
		c.MaximumThreads = n
	case "log_path":
		c.LogPath = value
	case "log_in_terminal":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: log_in_terminal must be bool: %v", ErrConfigInvalidType, err)
		}
		c.LogInTerminal = b
	case "auth_file":
		c.AuthFile = value
	case "tls_identity":
		c.TLSIdentity = value
	case "tls_passphrase":
		c.TLSPassphrase = value
	case "keep_alive_max":
		n, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: keep_alive_max must be u16: %v", ErrConfigInvalidType, err)
		}
		c.KeepAliveMax = uint16(n)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}
