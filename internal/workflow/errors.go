package workflow

import (
	"errors"
)

var (
	// ErrValidation marks missing or invalid operator input.
	ErrValidation = errors.New("validation failed")

	// ErrSessionExpired means the workflow state for the session is gone.
	ErrSessionExpired = errors.New("session expired")
)

// Operator-facing messages.
const (
	msgMissingFile     = "Sube un archivo Excel o CSV"
	msgUnsupported     = "Formato no soportado. Usa .xls, .xlsx o .csv"
	msgUnreadable      = "No se pudo leer el archivo"
	msgExpired         = "Sesión expirada. Vuelve a subir el archivo."
	msgBadColumns      = "Selecciona correctamente las columnas de correo y nombre."
	msgNoRecipients    = "No hay destinatarios. Vuelve a subir el archivo."
	msgMissingCreds    = "Debes ingresar el correo remitente y la contraseña de aplicación."
	msgBadPort         = "El puerto SMTP debe ser numérico"
	msgConnectionError = "No se pudo conectar a SMTP"
)

// stepError pairs an operator-facing message with the sentinel that
// classifies it and, optionally, the underlying cause.
type stepError struct {
	kind  error
	msg   string
	cause error
}

func (e *stepError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *stepError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.kind, e.cause} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validation(msg string) error {
	return &stepError{kind: ErrValidation, msg: msg}
}

func expired() error {
	return &stepError{kind: ErrSessionExpired, msg: msgExpired}
}

// wrap keeps cause's own classification (sheet.ErrImport, email.ErrConnection)
// and prefixes the operator message.
func wrap(msg string, cause error) error {
	return &stepError{msg: msg, cause: cause}
}
