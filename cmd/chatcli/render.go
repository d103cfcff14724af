package main

import (
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/lalith-99/echoroom/internal/models"
	"github.com/olekukonko/tablewriter"
)

const timeFormat = "15:04:05"

// printer renders timeline entries and push events to the terminal.
type printer struct {
	w      io.Writer
	self   string
	colors bool
}

func (p *printer) paint(c color.Color, s string) string {
	if !p.colors {
		return s
	}
	return c.Render(s)
}

func (p *printer) author(m models.HydratedMessage) string {
	if m.Sender.Username == p.self {
		return p.paint(color.FgGreen, m.Sender.Username)
	}
	return p.paint(color.FgCyan, m.Sender.Username)
}

// message prints one line: [time] id <author> content. tag marks edits.
func (p *printer) message(tag string, m models.HydratedMessage) {
	var b strings.Builder
	if tag != "" {
		b.WriteString(p.paint(color.FgYellow, tag) + " ")
	}
	b.WriteString(p.paint(color.FgGray, "["+m.CreatedAt.Local().Format(timeFormat)+"] "+m.ID.String()))
	b.WriteString(" <" + p.author(m) + "> ")
	b.WriteString(m.Content)
	b.WriteString("\n")
	_, _ = io.WriteString(p.w, b.String())
}

func (p *printer) notice(s string) {
	_, _ = io.WriteString(p.w, p.paint(color.FgYellow, s)+"\n")
}

func (p *printer) failure(s string) {
	_, _ = io.WriteString(p.w, p.paint(color.FgRed, "! "+s)+"\n")
}

// table prints the whole timeline as a borderless table for /list.
func (p *printer) table(msgs []models.HydratedMessage) {
	table := tablewriter.NewWriter(p.w)
	table.SetHeader([]string{"Time", "ID", "From", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")

	for _, m := range msgs {
		when := m.CreatedAt.Local().Format(timeFormat)
		if m.UpdatedAt.After(m.CreatedAt) {
			when += " (edited)"
		}
		table.Append([]string{when, m.ID.String(), m.Sender.Username, m.Content})
	}
	table.Render()
}
