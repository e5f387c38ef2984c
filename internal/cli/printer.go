package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/response"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

// printResponse writes a status line, any errors and the body.
func printResponse(w io.Writer, resp response.Response, trace bool) error {
	info := resp.Info()
	if trace && info.RequestHeader != "" {
		fmt.Fprintln(w, info.RequestHeader)
	}
	fmt.Fprintf(w, "%s %d %s (%s, %s)\n", info.URL, info.StatusCode, info.ContentType,
		humanize.Bytes(uint64(max(0, info.SizeDownload))), info.TotalTime.Round(time.Millisecond))
	for _, e := range resp.Errors() {
		fmt.Fprintf(w, "error %d: %s\n", e.Code, e.Message)
	}
	_, err := io.WriteString(w, resp.String())
	if err == nil && len(resp.Raw()) > 0 && resp.Raw()[len(resp.Raw())-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// summary accumulates one row per completed request of a batch.
type summary struct {
	rows   [][]string
	failed int
	bytes  uint64
}

func (s *summary) add(r *multireq.Request) {
	resp := r.Response()
	if resp == nil {
		return
	}
	info := resp.Info()
	status := strconv.Itoa(info.StatusCode)
	errText := "-"
	if e := resp.Err(); e != nil {
		s.failed++
		errText = fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	if info.StatusCode == 0 {
		status = "-"
	}
	size := uint64(max(0, info.SizeDownload))
	s.bytes += size
	s.rows = append(s.rows, []string{
		strconv.Itoa(len(s.rows) + 1),
		r.Method(),
		r.URL(),
		status,
		humanize.Bytes(size),
		info.TotalTime.Round(time.Millisecond).String(),
		errText,
	})
}

// write prints the table followed by batch totals.
func (s *summary) write(w io.Writer, exec multireq.Execution, st transport.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMETHOD\tURL\tSTATUS\tSIZE\tTIME\tERROR")
	for _, row := range s.rows {
		for i, col := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, col)
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s requests completed in %s, %s failed, %s received, %s throttled\n",
		humanize.Comma(int64(exec.Completed)),
		exec.Duration.Round(time.Millisecond),
		humanize.Comma(int64(s.failed)),
		humanize.Bytes(s.bytes),
		humanize.Comma(int64(st.Throttled)),
	)
	return err
}
