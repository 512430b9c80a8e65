package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"radius-auth-proxy/internal/backend/domain"
)

// fileAdapter authenticates against a flat credential file with one entry
// per line: identity, stored secret, and an optional comma-separated
// attribute list.
//
//	alice $2a$12$...  Filter-Id=staff,Session-Timeout=3600
//	#comment lines and blank lines are skipped
//
// The parsed table is cached keyed by file mtime and size so concurrent
// external edits are picked up on the next call without a reload operation.
type fileAdapter struct {
	name         string
	path         string
	digestScheme string

	mu      sync.Mutex
	users   map[string]fileEntry
	modTime time.Time
	size    int64
}

type fileEntry struct {
	secret     string
	attributes map[string]string
}

func newFileAdapter(name string, settings map[string]string) *fileAdapter {
	return &fileAdapter{
		name:         name,
		path:         settings["path"],
		digestScheme: settings["digestScheme"],
	}
}

func (a *fileAdapter) Name() string      { return a.name }
func (a *fileAdapter) Type() domain.Type { return domain.TypeFile }

// Authenticate looks the identity up in the parsed credential table and
// verifies the secret under the configured digest scheme.
func (a *fileAdapter) Authenticate(ctx context.Context, identity, secret string) (bool, map[string]string, error) {
	if identity == "" || secret == "" {
		return false, nil, nil
	}
	users, err := a.load()
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	entry, ok := users[identity]
	if !ok {
		return false, nil, nil
	}
	granted, err := verifySecret(a.digestScheme, secret, entry.secret)
	if err != nil {
		return false, nil, err
	}
	if !granted {
		return false, nil, nil
	}
	return true, entry.attributes, nil
}

// TestConnection reports whether the credential file exists and parses.
func (a *fileAdapter) TestConnection(ctx context.Context) (bool, string) {
	info, err := os.Stat(a.path)
	if err != nil {
		return false, fmt.Sprintf("credential file not readable: %v", err)
	}
	if info.IsDir() {
		return false, fmt.Sprintf("%s is a directory, not a credential file", a.path)
	}
	users, err := a.load()
	if err != nil {
		return false, fmt.Sprintf("cannot parse credential file: %v", err)
	}
	return true, fmt.Sprintf("read %d entries from %s", len(users), a.path)
}

// load returns the parsed credential table, re-reading the file whenever its
// mtime or size changed since the last parse.
func (a *fileAdapter) load() (map[string]fileEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.path)
	if err != nil {
		return nil, err
	}
	// An edit that changes neither size nor mtime (within the filesystem's
	// timestamp granularity) is served stale until the next metadata change.
	if a.users != nil && info.ModTime().Equal(a.modTime) && info.Size() == a.size {
		return a.users, nil
	}

	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	users := make(map[string]fileEntry)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		entry := fileEntry{secret: fields[1]}
		if len(fields) >= 3 {
			entry.attributes = parseAttributeList(strings.Join(fields[2:], " "))
		}
		users[fields[0]] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	a.users = users
	a.modTime = info.ModTime()
	a.size = info.Size()
	return users, nil
}

// parseAttributeList parses "k=v,k2=v2" into a reply-attribute map.
func parseAttributeList(s string) map[string]string {
	attrs := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			attrs[key] = value
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
