// Package secrets loads API credentials from a directory of plain-text
// files. The filename is the key and the trimmed contents are the value.
package secrets

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Load reads every file in dir. A missing directory is not an error.
// Unreadable files are logged and skipped.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	out := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("warning: could not read secret %s: %v", entry.Name(), err)
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			out[entry.Name()] = v
		}
	}
	return out, nil
}

// Resolver looks up credentials by reference: the environment variable
// named ref first, then the secret file of the same name.
type Resolver struct {
	files map[string]string
}

// NewResolver loads dir and returns a resolver over it.
func NewResolver(dir string) (*Resolver, error) {
	files, err := Load(dir)
	if err != nil {
		return nil, err
	}
	return &Resolver{files: files}, nil
}

// Resolve returns the credential for ref, or an error naming where it
// was looked for.
func (r *Resolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty credential reference")
	}
	if v := strings.TrimSpace(os.Getenv(ref)); v != "" {
		return v, nil
	}
	if v, ok := r.files[ref]; ok {
		return v, nil
	}
	return "", fmt.Errorf("credential %s not set in environment or secrets directory", ref)
}
