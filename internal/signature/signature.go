package signature

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/render"
)

// Fallback is used whenever the signature file can't be loaded.
const Fallback = `Coordinación de Matrícula
Centro de Idiomas de la Universidad Nacional Mayor de San Marcos
Correo: personalcontratado31.flch@unmsm.edu.pe
Av. Universitaria, Calle Germán Amézaga Nº 375. Ciudad Universitaria, Lima`

type Loader struct {
	Path string
	Log  *zap.Logger
}

// Load returns the signature as plain text. It never fails: a missing or
// unreadable file yields Fallback.
func (l *Loader) Load() string {

	raw, err := l.read()
	if err != nil {
		l.Log.Warn("signature unavailable, using fallback",
			zap.String("path", l.Path),
			zap.Error(err),
		)
		return Fallback
	}

	text := render.HTMLToText(raw)

	l.Log.Debug("signature loaded",
		zap.String("path", l.Path),
		zap.Int("length", utf8.RuneCountInString(text)),
	)

	return text
}

func (l *Loader) read() (string, error) {
	if l.Path == "" {
		return "", errors.New("no signature path configured")
	}

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.New("signature is not valid UTF-8")
	}

	return strings.TrimSpace(string(data)), nil
}
