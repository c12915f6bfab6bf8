package models

import "time"

// UploadSession is the workflow state carried between steps of one browser session.
type UploadSession struct {
	FilePath        string            `json:"file_path"`
	OriginalName    string            `json:"original_name"`
	MessageTemplate string            `json:"message_template"`
	DefaultSubject  string            `json:"default_subject"`
	Columns         []string          `json:"columns"`
	EmailCol        string            `json:"email_col,omitempty"`
	NameCol         string            `json:"name_col,omitempty"`
	SubjectCol      string            `json:"subject_col,omitempty"`
	Records         []RecipientRecord `json:"mapped_records,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Mapped reports whether the Map step has produced recipients.
func (s *UploadSession) Mapped() bool {
	return s != nil && len(s.Records) > 0
}

// Clone returns a deep copy so stored state can't be mutated through a reader.
func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Columns = append([]string(nil), s.Columns...)
	c.Records = append([]RecipientRecord(nil), s.Records...)
	return &c
}
