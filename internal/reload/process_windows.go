//go:build windows

package reload

import (
	"io"
	"os/exec"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type processHandle struct {
	cmd  *exec.Cmd
	job  *killJob
	done chan struct{}
	err  error
}

// killJob is a job object that terminates its processes when closed, so
// children spawned by the server runtime go away with it.
type killJob struct {
	h windows.Handle
}

func newKillJob() (*killJob, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, err
	}
	var limits windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	limits.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	if _, err := windows.SetInformationJobObject(h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&limits)),
		uint32(unsafe.Sizeof(limits))); err != nil {
		_ = windows.CloseHandle(h)
		return nil, err
	}
	return &killJob{h: h}, nil
}

func (j *killJob) add(pid int) error {
	p, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(p)
	return windows.AssignProcessToJobObject(j.h, p)
}

func (j *killJob) close() {
	_ = windows.CloseHandle(j.h)
}

func startProcess(binary string, args []string, dir string, env []string, stdout, stderr io.Writer) (*processHandle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	// Without a job the process itself is still killed on stop.
	job, err := newKillJob()
	if err == nil && job.add(cmd.Process.Pid) != nil {
		job.close()
		job = nil
	}

	proc := &processHandle{cmd: cmd, job: job, done: make(chan struct{})}
	go func() {
		proc.err = cmd.Wait()
		close(proc.done)
	}()
	return proc, nil
}

// stopProcess closes the job, which ends the whole process tree. Windows
// has no SIGTERM, so grace only bounds the wait for exit.
func stopProcess(proc *processHandle, grace time.Duration) {
	if proc == nil || proc.cmd.Process == nil {
		return
	}
	if proc.job != nil {
		proc.job.close()
		proc.job = nil
	} else {
		_ = proc.cmd.Process.Kill()
	}

	select {
	case <-proc.done:
	case <-time.After(grace):
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
}
