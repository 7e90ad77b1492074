//go:build !windows

package executor

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// eot is ^D, end of input for a terminal in canonical mode.
const eot = 0x04

type ptyTerminal struct {
	f *os.File
}

func startTerminal(cmd *exec.Cmd) (terminal, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		return nil, err
	}
	return &ptyTerminal{f: f}, nil
}

func (t *ptyTerminal) Read(p []byte) (int, error)  { return t.f.Read(p) }
func (t *ptyTerminal) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *ptyTerminal) CloseInput() error {
	_, err := t.f.Write([]byte{eot})
	return err
}

func (t *ptyTerminal) Close() error { return t.f.Close() }

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// terminate and kill signal the whole process group. Interactive children
// lead their own session, so the group id equals the pid in both cases.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return unix.Kill(-p.Pid, unix.SIGTERM)
}

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return unix.Kill(-p.Pid, unix.SIGKILL)
}
