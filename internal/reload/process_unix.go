//go:build !windows

package reload

import (
	"io"
	"os/exec"
	"syscall"
	"time"
)

type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(binary string, args []string, dir string, env []string, stdout, stderr io.Writer) (*processHandle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

func (p *processHandle) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// signalGroup delivers sig to the process group the server leads, falling
// back to the process alone when the group is gone.
func (p *processHandle) signalGroup(sig syscall.Signal) {
	if pgid, err := syscall.Getpgid(p.cmd.Process.Pid); err == nil && pgid > 0 {
		if syscall.Kill(-pgid, sig) == nil {
			return
		}
	}
	_ = p.cmd.Process.Signal(sig)
}

// stopProcess sends SIGTERM to the group and escalates to SIGKILL once
// grace has passed.
func stopProcess(proc *processHandle, grace time.Duration) {
	if proc == nil || proc.cmd.Process == nil || proc.exited() {
		return
	}
	proc.signalGroup(syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-proc.done:
	case <-timer.C:
		proc.signalGroup(syscall.SIGKILL)
		<-proc.done
	}
}
