package loader

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DotEnvLoader reads a .env file and exposes the prefixed entries as a
// configuration map, using the same path rules as EnvLoader.
//
// Values from the file never leak into the process environment.
type DotEnvLoader struct {
	path string
	env  *EnvLoader
}

// NewDotEnvLoader creates a loader for the .env file at path.
func NewDotEnvLoader(path, prefix string) *DotEnvLoader {
	return &DotEnvLoader{path: path, env: NewEnvLoader(prefix)}
}

// Load parses the .env file. A missing file yields nil, nil.
func (l *DotEnvLoader) Load() (map[string]any, error) {
	values, err := godotenv.Read(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &ParseError{Path: l.path, Message: err.Error(), Err: err}
	}

	entries := make([]string, 0, len(values))
	for k, v := range values {
		entries = append(entries, fmt.Sprintf("%s=%s", k, v))
	}

	env := *l.env
	env.environ = func() []string { return entries }
	return env.Load()
}
