//go:build windows

package wrapper

import (
	"os"
	"os/exec"
)

var DefaultShell = []string{"cmd", "/C"}

var defaultSignals = []os.Signal{os.Interrupt}

func configureSysProcAttr(*exec.Cmd) {}

// killGroup has no process-group equivalent here; the tree walk in
// child.kill covers descendants.
func killGroup(int) {}

func signalNumber(os.Signal) int { return 2 }

type guard struct{}

func startGuard(int) *guard { return nil }

func (*guard) release() {}
