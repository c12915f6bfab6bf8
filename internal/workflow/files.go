package workflow

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const fallbackBaseName = "archivo"

// SanitizeFilename reduces an uploaded name to a safe ASCII file name.
// Directory components are dropped, accents are folded ("Matrícula" becomes
// "Matricula"), spaces become underscores and anything else outside
// [A-Za-z0-9._-] is removed. The extension is kept, lower-cased.
func SanitizeFilename(name string) string {

	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	base = strings.Trim(asciiOnly(fold(base)), "._-")
	ext = asciiOnly(ext)
	if base == "" {
		base = fallbackBaseName
	}

	return base + ext
}

func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func asciiOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	return b.String()
}

// saveUpload writes content under dir with a unique prefix and returns the path.
func saveUpload(dir, filename string, content io.Reader) (string, error) {

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+"_"+SanitizeFilename(filename))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}

	return path, nil
}
