package registrations

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/eventhorizon/server/internal/domain/events"
)

// RosterTimeLayout is the format of the Registered At column.
const RosterTimeLayout = "2006-01-02 15:04:05"

// Roster is an event's registration list prepared for export.
type Roster struct {
	Event         *events.Event
	Registrations []Registration
}

// Filename is the download name of the CSV export.
func (r *Roster) Filename() string {
	return fmt.Sprintf("%s_roster.csv", r.Event.Slug)
}

// Headers returns the fixed columns followed by one column per schema question.
func (r *Roster) Headers() []string {
	headers := []string{"Username", "Email", "Status", "Registered At"}
	for _, q := range r.Event.RegistrationSchema {
		headers = append(headers, q.Label)
	}
	return headers
}

// WriteCSV writes the roster with a header row. Boolean answers are written
// as Yes/No and missing answers as empty cells.
func (r *Roster) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Headers()); err != nil {
		return fmt.Errorf("write roster header: %w", err)
	}

	for _, reg := range r.Registrations {
		row := []string{
			reg.Participant.Username,
			reg.Participant.Email,
			string(reg.Status),
			reg.RegisteredAt.UTC().Format(RosterTimeLayout),
		}
		for _, q := range r.Event.RegistrationSchema {
			row = append(row, FormatAnswer(reg.Answers[q.ID]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write roster row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
