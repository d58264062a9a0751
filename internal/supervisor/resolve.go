package supervisor

import (
	"context"
	"fmt"
)

// LayoutProvider is implemented by supervisors whose report layout differs
// from DefaultLayout.
type LayoutProvider interface {
	ReportLayout() Layout
}

func (s *CommandSupervisor) ReportLayout() Layout { return s.Layout }

// Resolve looks up the supervisor-assigned name of pid. It keeps the
// difference between a missing row (ErrNotFound) and a failing supervisor
// (ErrUnreachable) so callers can log and count them separately.
func Resolve(ctx context.Context, sup Supervisor, pid int) (string, error) {
	report, err := sup.Status(ctx)
	if err != nil {
		return "", err
	}
	layout := DefaultLayout
	if lp, ok := sup.(LayoutProvider); ok {
		layout = lp.ReportLayout()
	}
	e, ok := FindByPID(ParseReport(report, layout), pid)
	if !ok {
		return "", fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	name := StripANSI(e.Name)
	if name == "" {
		return "", fmt.Errorf("%w: pid %d has empty name", ErrNotFound, pid)
	}
	return name, nil
}

// ResolveName is Resolve with every failure folded into "absent".
func ResolveName(ctx context.Context, sup Supervisor, pid int) (string, bool) {
	name, err := Resolve(ctx, sup, pid)
	if err != nil {
		return "", false
	}
	return name, true
}
