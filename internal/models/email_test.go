package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachmentFileIsPDF(t *testing.T) {
	t.Parallel()

	assert.True(t, AttachmentFile{Filename: "horario.pdf"}.IsPDF())
	assert.True(t, AttachmentFile{Filename: "HORARIO.PDF"}.IsPDF())
	assert.False(t, AttachmentFile{Filename: "notas.docx"}.IsPDF())
	assert.False(t, AttachmentFile{Filename: "pdf"}.IsPDF())
}

func TestSMTPCredentialsStringHidesPassword(t *testing.T) {
	t.Parallel()

	c := SMTPCredentials{Email: "a@unmsm.edu.pe", AppPassword: "abcd efgh", FromName: "Centro", Host: "smtp.gmail.com", Port: 587}

	assert.Equal(t, "smtp.gmail.com:587", c.Addr())
	assert.NotContains(t, c.String(), "abcd")
}

func TestDispatchReportCounters(t *testing.T) {
	t.Parallel()

	r := DispatchReport{Results: []DispatchResult{
		{Email: "a@x.pe", Status: StatusSent},
		{Email: "", Status: StatusError, Detail: "Correo vacío"},
		{Email: "c@x.pe", Status: StatusSent},
	}}

	assert.Equal(t, 2, r.Sent())
	assert.Equal(t, 1, r.Failed())
}

func TestUploadSessionClone(t *testing.T) {
	t.Parallel()

	s := &UploadSession{Columns: []string{"mail"}, Records: []RecipientRecord{{Email: "a@x.pe", Name: "Ana"}}}
	c := s.Clone()
	c.Columns[0] = "changed"
	c.Records[0].Name = "changed"

	assert.Equal(t, "mail", s.Columns[0])
	assert.Equal(t, "Ana", s.Records[0].Name)
	assert.True(t, s.Mapped())
	assert.False(t, (*UploadSession)(nil).Mapped())
}
