package broker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// AuthTable holds the set of permitted usernames and the single shared
// password checked against CONNECT credentials. spec.md §3 "AuthTable",
// §6's `users:`/`password:` file format. Grounded on the general shape of
// _examples/original_source/mqtt/src/common/authentication.rs, whose
// serialize/deserialize pair is wire-format (CONNECT username/password
// fields, already handled by packet/0x1.connect.go); this is the separate,
// simpler config-file credential store spec.md §6 describes.
type AuthTable struct {
	mu       sync.RWMutex
	users    map[string]bool
	password string
	enabled  bool
}

// NewAuthTable returns an empty, disabled AuthTable. A broker with no auth
// file configured accepts any CONNECT regardless of username/password,
// matching spec.md §4.3's "absent config disables auth entirely" resolution.
func NewAuthTable() *AuthTable {
	return &AuthTable{users: make(map[string]bool)}
}

// Enabled reports whether credential checking is active.
func (a *AuthTable) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Check reports whether username/password is accepted. A username not in
// the table is always rejected; an empty table (loaded with zero users)
// rejects everything once enabled.
func (a *AuthTable) Check(username, password string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled {
		return true
	}
	return a.users[username] && password == a.password
}

// LoadAuthFile parses the spec.md §6 auth file: a `users: u1,u2,...` line
// listing permitted usernames and a `password: <shared-password>` line
// giving the single password checked against all of them.
func LoadAuthFile(path string) (*AuthTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadAuth(f)
}

func LoadAuth(r io.Reader) (*AuthTable, error) {
	a := NewAuthTable()
	sawUsers, sawPassword := false, false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("broker: auth file: missing ':' separator in %q", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "users":
			for _, u := range strings.Split(value, ",") {
				u = strings.TrimSpace(u)
				if u != "" {
					a.users[u] = true
				}
			}
			sawUsers = true
		case "password":
			a.password = value
			sawPassword = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrConfigUnknownKey, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawUsers || !sawPassword {
		return nil, fmt.Errorf("%w: auth file requires both 'users' and 'password'", ErrConfigMissingKey)
	}
	a.enabled = true
	return a, nil
}
