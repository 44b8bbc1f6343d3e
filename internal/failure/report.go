package failure

import (
	"errors"
	"strings"
)

// TailLines is the number of captured lines per stream shown in a dialog.
const TailLines = 12

const (
	TitleStartup      = "Startup error"
	TitleLaunchFailed = "Backend failed to start"
	TitleStopped      = "Backend stopped"
)

// Report is what the UI shows in its modal error dialog.
type Report struct {
	Title string
	Body  string
}

// Title returns the dialog title for a kind.
func (k Kind) Title() string {
	switch k {
	case KindLaunchFailed:
		return TitleLaunchFailed
	case KindCrash:
		return TitleStopped
	default:
		return TitleStartup
	}
}

// ReportFor renders err as a dialog. Errors that are not *Error are shown
// under the generic startup title with their message.
func ReportFor(err error) Report {
	var fe *Error
	if !errors.As(err, &fe) {
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		return Report{Title: TitleStartup, Body: capitalize(msg) + "."}
	}

	var b strings.Builder
	b.WriteString(capitalize(fe.Error()))
	b.WriteString(".")
	if fe.LogFile != "" {
		b.WriteString("\n\nSee the log file for details: ")
		b.WriteString(fe.LogFile)
	}
	writeTail(&b, "stdout", fe.Stdout)
	writeTail(&b, "stderr", fe.Stderr)
	return Report{Title: fe.Kind.Title(), Body: b.String()}
}

func writeTail(b *strings.Builder, stream string, lines []string) {
	if len(lines) == 0 {
		return
	}
	if len(lines) > TailLines {
		lines = lines[len(lines)-TailLines:]
	}
	b.WriteString("\n\nRecent ")
	b.WriteString(stream)
	b.WriteString(":\n")
	b.WriteString(strings.Join(lines, "\n"))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
