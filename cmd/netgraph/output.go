package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"cdpnetgraph/pkg/traffic"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	redirectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const maxURLWidth = 90

type cell struct {
	text  string
	style *lipgloss.Style
}

func plain(format string, a ...any) cell { return cell{text: fmt.Sprintf(format, a...)} }

func styled(s *lipgloss.Style, text string) cell { return cell{text: text, style: s} }

func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderTable 按列宽对齐输出，样式只在终端上生效
func renderTable(w io.Writer, header []string, rows [][]cell) error {
	color := colorEnabled(w)
	all := make([][]cell, 0, len(rows)+1)
	head := make([]cell, len(header))
	for i, h := range header {
		head[i] = styled(&headerStyle, h)
	}
	all = append(all, head)
	all = append(all, rows...)

	widths := make([]int, len(header))
	for _, row := range all {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c.text))
		}
	}

	var b strings.Builder
	for _, row := range all {
		for i, c := range row {
			text := c.text
			if color && c.style != nil {
				text = c.style.Render(text)
			}
			b.WriteString(text)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(c.text)+2))
			}
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func millis(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v*1000)
}

// printRequests 打印请求图摘要，一跳一行
func printRequests(w io.Writer, records []*traffic.NetworkRequest) error {
	rows := make([][]cell, 0, len(records))
	for _, r := range records {
		status := plain("%d", r.StatusCode)
		switch {
		case r.Failed:
			status = styled(&failedStyle, "failed")
		case r.RedirectDestination != nil:
			status = styled(&redirectStyle, fmt.Sprint(r.StatusCode))
		}
		initiator := styled(&dimStyle, "-")
		if r.InitiatorRequest != nil {
			initiator = plain("%s", r.InitiatorRequest.RequestID)
		}
		start := r.NetworkRequestTime
		rows = append(rows, []cell{
			plain("%s", r.RequestID),
			status,
			plain("%s", r.Resource),
			plain("%s", millis(&start)),
			plain("%s", millis(r.NetworkEndTime)),
			plain("%d", r.TransferSize),
			initiator,
			plain("%s", truncate(r.URL, maxURLWidth)),
		})
	}
	if err := renderTable(w, []string{"ID", "STATUS", "TYPE", "START(ms)", "END(ms)", "BYTES", "INITIATOR", "URL"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d requests\n", len(records))
	return err
}
