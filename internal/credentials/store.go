// Package credentials persists SMTP settings in a flat KEY=value file that
// stays human-editable: comments, blank lines and unknown keys survive rewrites.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

const (
	KeyEmail       = "SMTP_EMAIL"
	KeyAppPassword = "SMTP_APP_PASSWORD"
	KeyFromName    = "SMTP_FROM_NAME"
	KeyHost        = "SMTP_HOST"
	KeyPort        = "SMTP_PORT"
)

const (
	DefaultHost     = "smtp.gmail.com"
	DefaultPort     = 587
	DefaultFromName = "Centro de Idiomas"
)

type Store struct {
	Path string

	mu sync.Mutex
}

func New(path string) *Store {
	return &Store{Path: path}
}

// Read returns the value of key from the process environment, then the
// file, then fallback.
func (s *Store) Read(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	values, err := s.Load()
	if err == nil {
		if v, ok := values[key]; ok {
			return v
		}
	}

	return fallback
}

// Load parses the file. A missing file is an empty map.
func (s *Store) Load() (map[string]string, error) {

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	values := make(map[string]string)
	for _, line := range splitLines(data) {
		if k, v, ok := parseLine(line); ok {
			values[k] = v
		}
	}

	return values, nil
}

// Write merges updates into the file. Existing lines keep their order,
// matching keys are replaced in place and new keys are appended.
func (s *Store) Write(updates map[string]string) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read credentials file: %w", err)
	}

	clean := make(map[string]string, len(updates))
	for k, v := range updates {
		clean[k] = sanitize(v)
	}

	written := make(map[string]bool, len(clean))
	var lines []string
	for _, line := range splitLines(data) {
		k, _, ok := parseLine(line)
		if ok {
			if v, found := clean[k]; found {
				line = k + "=" + v
				written[k] = true
			}
		}
		lines = append(lines, line)
	}

	keys := make([]string, 0, len(clean))
	for k := range clean {
		if !written[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+"="+clean[k])
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}

	return writeAtomic(s.Path, buf.Bytes())
}

// Apply exports values into the process environment.
func (s *Store) Apply(values map[string]string) error {
	var errs []error
	for k, v := range values {
		if err := os.Setenv(k, sanitize(v)); err != nil {
			errs = append(errs, fmt.Errorf("setenv %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// LoadEnv exports file values that are not already set in the environment.
func (s *Store) LoadEnv() error {
	values, err := s.Load()
	if err != nil {
		return err
	}

	missing := make(map[string]string)
	for k, v := range values {
		if _, ok := os.LookupEnv(k); !ok {
			missing[k] = v
		}
	}
	return s.Apply(missing)
}

// Remember persists credentials to the file and the environment.
func (s *Store) Remember(c models.SMTPCredentials) error {
	values := Values(c)
	if err := s.Write(values); err != nil {
		return err
	}
	return s.Apply(values)
}

// Defaults returns the values used to prefill the confirm step.
func (s *Store) Defaults() models.SMTPCredentials {
	port, err := strconv.Atoi(s.Read(KeyPort, strconv.Itoa(DefaultPort)))
	if err != nil || port <= 0 {
		port = DefaultPort
	}

	return models.SMTPCredentials{
		Email:       s.Read(KeyEmail, ""),
		AppPassword: s.Read(KeyAppPassword, ""),
		FromName:    s.Read(KeyFromName, DefaultFromName),
		Host:        s.Read(KeyHost, DefaultHost),
		Port:        port,
	}
}

func Values(c models.SMTPCredentials) map[string]string {
	return map[string]string{
		KeyEmail:       c.Email,
		KeyAppPassword: c.AppPassword,
		KeyFromName:    c.FromName,
		KeyHost:        c.Host,
		KeyPort:        strconv.Itoa(c.Port),
	}
}

func parseLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}

	k, v, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}

	k = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(k), "export "))
	if k == "" {
		return "", "", false
	}

	return k, unquote(strings.TrimSpace(v)), true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func sanitize(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// splitLines has no line length limit: a long certificate or token must
// survive a rewrite untouched.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// writeAtomic writes to a temp file next to path and renames it over path.
func writeAtomic(path string, data []byte) error {

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp credentials file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credentials file: %w", err)
	}

	return nil
}
