//go:build windows

package executor

import (
	"os"
	"os/exec"
)

func startTerminal(cmd *exec.Cmd) (terminal, error) {
	return startPipes(cmd)
}

func setProcessGroup(*exec.Cmd) {}

func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
