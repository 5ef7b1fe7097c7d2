package monitor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

const viewHeaderPrefix = "# monitor view "

// View is one rendered monitor frame as read back by a client.
type View struct {
	Seq   uint64
	Taken time.Time
	Lines []string
}

// renderView writes one frame: a header line, the sample table and a blank
// line that terminates the frame.
func renderView(w io.Writer, seq uint64, taken time.Time, viewers int, s Sample) error {
	var table bytes.Buffer
	tw := tablewriter.NewWriter(&table)
	tw.SetHeader([]string{"METRIC", "VALUE"})
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)

	tw.Append([]string{"viewers", strconv.Itoa(viewers)})
	tw.Append([]string{"process.rss", formatBytes(s.RSSBytes)})
	tw.Append([]string{"process.threads", strconv.Itoa(int(s.Threads))})
	tw.Append([]string{"process.cpu", fmt.Sprintf("%.1f%%", s.CPUPercent)})
	tw.Append([]string{"host.uptime", s.HostUptime.Truncate(time.Second).String()})
	tw.Append([]string{"host.mem_used", fmt.Sprintf("%.1f%%", s.MemUsedPercent)})
	tw.Render()

	var frame bytes.Buffer
	fmt.Fprintf(&frame, "%s%d %s\n", viewHeaderPrefix, seq, taken.UTC().Format(time.RFC3339))
	for _, line := range strings.Split(table.String(), "\n") {
		line = strings.TrimRight(line, " ")
		if line == "" {
			continue
		}
		frame.WriteString(line)
		frame.WriteByte('\n')
	}
	frame.WriteByte('\n')

	_, err := w.Write(frame.Bytes())
	return err
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ReadView reads the next frame from the client side of a monitor connection.
func ReadView(r *bufio.Reader) (View, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return View{}, err
	}
	header = strings.TrimSuffix(header, "\n")
	if !strings.HasPrefix(header, viewHeaderPrefix) {
		return View{}, fmt.Errorf("unexpected view header %q", header)
	}

	fields := strings.Fields(strings.TrimPrefix(header, viewHeaderPrefix))
	if len(fields) != 2 {
		return View{}, fmt.Errorf("malformed view header %q", header)
	}
	seq, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return View{}, fmt.Errorf("view sequence: %w", err)
	}
	taken, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return View{}, fmt.Errorf("view timestamp: %w", err)
	}

	v := View{Seq: seq, Taken: taken}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return View{}, err
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return v, nil
		}
		v.Lines = append(v.Lines, line)
	}
}

// Value returns the value column of the row named metric, if present.
func (v View) Value(metric string) (string, bool) {
	for _, line := range v.Lines {
		name, value, ok := strings.Cut(line, "  ")
		if ok && name == metric {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
