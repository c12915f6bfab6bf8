package email

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

// Message is one personalized plain-text mail.
type Message struct {
	From        string
	FromName    string
	To          string
	Subject     string
	Body        string
	Attachments []models.AttachmentFile
}

// Build composes the MIME message. Only non-empty PDF attachments are included.
func (m Message) Build() *gomail.Message {

	gm := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	gm.SetAddressHeader("From", m.From, m.FromName)
	gm.SetHeader("To", m.To)
	gm.SetHeader("Subject", m.Subject)
	gm.SetBody("text/plain", m.Body)

	for _, att := range PDFAttachments(m.Attachments) {
		content := att.Content
		gm.Attach(att.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}))
	}

	return gm
}

// Send delivers m through an open session to m.To only.
func Send(s Session, m Message) error {
	if err := s.Send(m.From, []string{m.To}, m.Build()); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// PDFAttachments filters out non-PDF and empty files.
func PDFAttachments(files []models.AttachmentFile) []models.AttachmentFile {
	out := make([]models.AttachmentFile, 0, len(files))
	for _, f := range files {
		if f.IsPDF() && len(f.Content) > 0 {
			out = append(out, f)
		}
	}
	return out
}
