package output

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/sink"
)

// Summary describes one finished run.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  models.TabResults
	WhatsNew int // -1 when the page was not read
	Sinks    []sink.Result
	Err      error
}

// WriteSummary renders s as Markdown.
func WriteSummary(w io.Writer, s Summary) error {
	md := markdown.NewMarkdown(w)

	md.H1("Change Management Hub run")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + s.RunID + "`"},
			{"Started", s.Started.Format(time.RFC3339)},
			{"Duration", s.Finished.Sub(s.Started).Round(time.Second).String()},
			{"Status", status(s.Err)},
		},
	})
	md.PlainText("")

	md.H2("Tabs")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Tab", "Records"},
		Rows: [][]string{
			{"Roadmap", count(s.Results.Roadmap)},
			{"Change announcements", count(s.Results.ChangeAnnouncements)},
		},
	})
	md.PlainText("")

	if s.WhatsNew >= 0 {
		md.PlainTextf("What's new items: %d", s.WhatsNew)
		md.PlainText("")
	}

	if len(s.Sinks) > 0 {
		md.H2("SharePoint")
		md.PlainText("")
		rows := make([][]string, 0, len(s.Sinks))
		for _, r := range s.Sinks {
			rows = append(rows, []string{r.List, strconv.Itoa(r.Inserted), strconv.Itoa(r.Skipped), strconv.Itoa(r.Failed)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"List", "Inserted", "Skipped", "Failed"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	return md.Build()
}

// SaveSummary writes the Markdown summary to <dir>/summary-<ts>.md.
func SaveSummary(dir string, s Summary, ts string) (string, error) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, s); err != nil {
		return "", fmt.Errorf("output: render summary: %w", err)
	}
	return write(dir, fmt.Sprintf("%s-%s.md", SummaryPrefix, ts), buf.Bytes())
}

func status(err error) string {
	if err != nil {
		return "Failed - " + err.Error()
	}
	return "Complete"
}

func count(records []models.Record) string {
	if records == nil {
		return "tab not found"
	}
	return strconv.Itoa(len(records))
}
