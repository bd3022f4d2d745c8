package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/meshcall/internal/utils"
)

// ParticipantTable renders the remote participants using lipgloss/table
type ParticipantTable struct {
	rows []ParticipantRow
}

func NewParticipantTable(rows []ParticipantRow) *ParticipantTable {
	return &ParticipantTable{rows: rows}
}

// View renders the table as a string
func (t *ParticipantTable) View() string {
	if len(t.rows) == 0 {
		return MutedStyle.Render("No participants")
	}

	headers := []string{"#", "Name", "State", "Role", "Media", "Receiving", "Received"}

	var rows [][]string
	for i, r := range t.rows {
		name := utils.TruncateString(r.Name, 24)
		if name == "" {
			name = utils.TruncateString(r.ID, 12)
		}
		if r.Rendered {
			name = IconPeer + " " + name
		}
		state := r.State
		if state == stateNegotiating {
			state = IconWaiting + " " + state
		}
		rate, received := "-", "-"
		if r.Rendered {
			rate = utils.FormatRate(r.Rate)
			received = utils.FormatSize(int64(r.Received))
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name, state, r.Role, r.Media, rate, received})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}
