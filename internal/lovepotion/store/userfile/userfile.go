// Package userfile reads the hand-edited user list:
//
//	# comment
//	<credential id>:<name>[:key=value...]
//
// Whitespace around separators is ignored. Known keys are user, password
// and admin; they are accepted and ignored.
package userfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

var ErrParse = errors.New("user file parse error")

var knownKeys = map[string]struct{}{"user": {}, "password": {}, "admin": {}}

// Load parses the file at path.
func Load(path string) ([]types.User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open user file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads users from r. A later line for the same id replaces an
// earlier one.
func Parse(r io.Reader) ([]types.User, error) {
	var (
		out   []types.User
		index = make(map[string]int)
		n     int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		n++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		u, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrParse, n, err)
		}
		if i, dup := index[u.ID]; dup {
			out[i] = u
			continue
		}
		index[u.ID] = len(out)
		out = append(out, u)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read user file: %w", err)
	}
	return out, nil
}

func parseLine(line string) (types.User, error) {
	items := strings.Split(line, ":")
	if len(items) < 2 {
		return types.User{}, fmt.Errorf("want <id>:<name>, got %q", line)
	}
	id, ok := wiegand.NormalizeID(items[0])
	if !ok {
		return types.User{}, fmt.Errorf("invalid id %q", strings.TrimSpace(items[0]))
	}
	name := strings.TrimSpace(items[1])
	if name == "" {
		return types.User{}, errors.New("empty name")
	}
	for _, item := range items[2:] {
		key, _, found := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !found {
			return types.User{}, fmt.Errorf("field %q is not key=value", strings.TrimSpace(item))
		}
		if _, known := knownKeys[key]; !known {
			return types.User{}, fmt.Errorf("unknown key %q", key)
		}
	}
	return types.User{ID: id, Name: name, Enabled: true}, nil
}
