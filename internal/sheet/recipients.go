package sheet

import (
	"fmt"
	"strings"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

// Mapping selects which columns hold the recipient fields.
// SubjectCol is optional.
type Mapping struct {
	EmailCol   string
	NameCol    string
	SubjectCol string
}

// Validate checks that the required columns are chosen and exist in the table.
func (m Mapping) Validate(t *Table) error {
	for _, col := range []string{m.EmailCol, m.NameCol} {
		if col == "" || !t.HasColumn(col) {
			return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
		}
	}
	return nil
}

// MapRecipients builds one record per row, in row order. Values are trimmed;
// rows with empty email or name are kept (see DropIncomplete).
func MapRecipients(t *Table, m Mapping) ([]models.RecipientRecord, error) {

	if err := m.Validate(t); err != nil {
		return nil, err
	}

	withSubject := m.SubjectCol != "" && t.HasColumn(m.SubjectCol)

	records := make([]models.RecipientRecord, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := models.RecipientRecord{
			Email: strings.TrimSpace(row[m.EmailCol]),
			Name:  strings.TrimSpace(row[m.NameCol]),
		}
		if withSubject {
			rec.Subject = strings.TrimSpace(row[m.SubjectCol])
		}
		records = append(records, rec)
	}

	return records, nil
}

// DropIncomplete removes records missing an email or a name.
func DropIncomplete(records []models.RecipientRecord) []models.RecipientRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.Email == "" || r.Name == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
