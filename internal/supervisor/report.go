package supervisor

import (
	"strconv"
	"strings"
)

// Layout describes where the pid and name live in a status row.
// Column indices are zero-based and count cells, not raw whitespace fields.
// When DetectHeader is true a header row naming the columns overrides the
// fixed indices.
type Layout struct {
	PIDColumn    int
	NameColumn   int
	DetectHeader bool
}

// DefaultLayout matches the classic pm2 table:
// App name │ id │ mode │ pid │ status │ ...
var DefaultLayout = Layout{PIDColumn: 3, NameColumn: 0, DetectHeader: true}

// Entry is one supervised process row from a status report.
type Entry struct {
	PID   int
	Name  string
	Cells []string
}

// ParseReport splits a tabular status report into entries. Rows without a
// numeric pid cell (borders, headers, stopped entries showing "N/A") are
// skipped.
func ParseReport(report string, layout Layout) []Entry {
	pidCol, nameCol := layout.PIDColumn, layout.NameColumn
	var entries []Entry
	for _, line := range strings.Split(report, "\n") {
		cells := splitRow(line)
		if len(cells) == 0 {
			continue
		}
		if layout.DetectHeader {
			if p, n, ok := headerColumns(cells); ok {
				pidCol, nameCol = p, n
				continue
			}
		}
		if pidCol >= len(cells) || nameCol >= len(cells) {
			continue
		}
		pid, err := strconv.Atoi(cells[pidCol])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{PID: pid, Name: cells[nameCol], Cells: cells})
	}
	return entries
}

// FindByPID returns the entry whose pid equals pid.
func FindByPID(entries []Entry, pid int) (Entry, bool) {
	for _, e := range entries {
		if e.PID == pid {
			return e, true
		}
	}
	return Entry{}, false
}

// splitRow turns one line into clean cells. Box-drawn tables are split on
// their vertical separators so multi-word cells survive; anything else is
// split on whitespace.
func splitRow(line string) []string {
	line = StripANSI(strings.TrimSpace(line))
	if line == "" {
		return nil
	}
	var raw []string
	switch {
	case strings.ContainsRune(line, '│'):
		raw = strings.Split(line, "│")
	case strings.ContainsRune(line, '|'):
		raw = strings.Split(line, "|")
	default:
		return strings.Fields(line)
	}
	cells := make([]string, 0, len(raw))
	for i, c := range raw {
		c = strings.TrimSpace(c)
		// leading and trailing borders produce empty edge cells
		if c == "" && (i == 0 || i == len(raw)-1) {
			continue
		}
		cells = append(cells, c)
	}
	if len(cells) == 0 || isBorder(cells) {
		return nil
	}
	return cells
}

func isBorder(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "─┌┐└┘├┤┬┴┼═╞╡╪-+ ") != "" {
			return false
		}
	}
	return true
}

func headerColumns(cells []string) (pidCol, nameCol int, ok bool) {
	pidCol, nameCol = -1, -1
	for i, c := range cells {
		switch strings.ToLower(c) {
		case "pid":
			pidCol = i
		case "name", "app name", "app":
			nameCol = i
		}
	}
	return pidCol, nameCol, pidCol >= 0 && nameCol >= 0
}
