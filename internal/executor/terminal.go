package executor

import (
	"io"
	"os"
	"os/exec"
)

// pipeTerminal joins stdout and stderr on one pipe and closes stdin for
// end of input.
type pipeTerminal struct {
	stdin io.WriteCloser
	out   *os.File
}

func startPipes(cmd *exec.Cmd) (terminal, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	w.Close()
	return &pipeTerminal{stdin: stdin, out: r}, nil
}

func (t *pipeTerminal) Read(p []byte) (int, error)  { return t.out.Read(p) }
func (t *pipeTerminal) Write(p []byte) (int, error) { return t.stdin.Write(p) }
func (t *pipeTerminal) CloseInput() error           { return t.stdin.Close() }

func (t *pipeTerminal) Close() error {
	_ = t.stdin.Close()
	return t.out.Close()
}
