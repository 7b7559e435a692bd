package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// Table prints a bordered table. Cells may contain multi-byte characters.
func (u *UI) Table(headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = runewidth.StringWidth(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := runewidth.StringWidth(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	border := func(left, mid, right string) {
		var sb strings.Builder
		sb.WriteString(left)
		for i, w := range widths {
			sb.WriteString(strings.Repeat(u.glyph("─", "-"), w+2))
			if i < len(widths)-1 {
				sb.WriteString(mid)
			}
		}
		sb.WriteString(right)
		u.frame(sb.String())
	}
	line := func(cells []string) {
		bar := u.glyph("│", "|")
		var sb strings.Builder
		sb.WriteString(bar)
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			sb.WriteString(" ")
			sb.WriteString(runewidth.FillRight(cell, w))
			sb.WriteString(" ")
			sb.WriteString(bar)
		}
		fmt.Fprintln(u.out, sb.String())
	}

	border(u.glyph("┌", "+"), u.glyph("┬", "+"), u.glyph("┐", "+"))
	line(headers)
	border(u.glyph("├", "+"), u.glyph("┼", "+"), u.glyph("┤", "+"))
	for _, row := range rows {
		line(row)
	}
	border(u.glyph("└", "+"), u.glyph("┴", "+"), u.glyph("┘", "+"))
}

func (u *UI) glyph(fancy, plain string) string {
	if u.noColor {
		return plain
	}
	return fancy
}

func (u *UI) frame(s string) {
	if u.noColor {
		fmt.Fprintln(u.out, s)
		return
	}
	color.New(color.FgCyan, color.Bold).Fprintln(u.out, s)
}

// Section displays a section header.
func (u *UI) Section(title string) {
	fmt.Fprintln(u.out)
	header := fmt.Sprintf("━━━ %s ━━━", strings.ToUpper(title))
	if u.noColor {
		fmt.Fprintln(u.out, header)
	} else {
		color.New(color.FgMagenta, color.Bold).Fprintln(u.out, header)
	}
	fmt.Fprintln(u.out)
}

// KeyValue displays a key-value pair in a formatted way.
func (u *UI) KeyValue(key string, value interface{}) {
	if u.noColor {
		fmt.Fprintf(u.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(u.out, "  %s: ", key)
	fmt.Fprintf(u.out, "%v\n", value)
}

// Block prints multi-line text indented under a label.
func (u *UI) Block(label, text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(u.out, "  %s:\n", label)
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(u.out, "    %s\n", line)
	}
}

// Box displays text in a box with borders.
func (u *UI) Box(title string, content string) {
	lines := strings.Split(content, "\n")
	maxWidth := runewidth.StringWidth(title)
	for _, line := range lines {
		if w := runewidth.StringWidth(line); w > maxWidth {
			maxWidth = w
		}
	}
	if maxWidth < 40 {
		maxWidth = 40
	}

	horizontal := strings.Repeat(u.glyph("─", "-"), maxWidth+2)
	vertical := u.glyph("│", "|")

	fmt.Fprintf(u.out, "%s%s%s\n", u.glyph("┌", "+"), horizontal, u.glyph("┐", "+"))
	if title != "" {
		fmt.Fprintf(u.out, "%s %s %s\n", vertical, runewidth.FillRight(title, maxWidth), vertical)
		fmt.Fprintf(u.out, "%s%s%s\n", u.glyph("├", "+"), horizontal, u.glyph("┤", "+"))
	}
	for _, line := range lines {
		fmt.Fprintf(u.out, "%s %s %s\n", vertical, runewidth.FillRight(line, maxWidth), vertical)
	}
	fmt.Fprintf(u.out, "%s%s%s\n", u.glyph("└", "+"), horizontal, u.glyph("┘", "+"))
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
