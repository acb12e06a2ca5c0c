//go:build linux

package lock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cloisterhq/warden/internal/clock"
	"github.com/cloisterhq/warden/internal/logging"
)

// fileGuard holds an flock'd file descriptor. The kernel drops the flock
// automatically if the process dies, so a crash mid-mutation can never
// permanently wedge the system.
type fileGuard struct {
	fd   int
	path string
	log  *logging.Logger
}

// Acquire takes the named lock, polling non-blockingly up to
// Options.Attempts times with Options.Interval between tries.
// On success the lock file records the holder's pid and acquisition time.
func Acquire(opts Options) (Guard, error) {
	opts.applyDefaults()

	log := logging.WithComponent("lock")

	fd, err := unix.Open(opts.Path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", opts.Path, err)
	}

	for i := 0; i < opts.Attempts; i++ {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			writeHolder(fd)
			return &fileGuard{fd: fd, path: opts.Path, log: log}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			unix.Close(fd)
			return nil, fmt.Errorf("lock %s: %w", opts.Path, err)
		}
		if i%5 == 0 {
			log.Info("waiting for running operation to release the lock",
				"attempt", i+1, "max", opts.Attempts)
		}
		time.Sleep(opts.Interval)
	}

	unix.Close(fd)
	return nil, fmt.Errorf("lock %s: %w", opts.Path, ErrTimeout)
}

// writeHolder stamps the lock file with pid and acquisition time for
// operator diagnostics. Best effort: the flock itself is the lock.
func writeHolder(fd int) {
	content := fmt.Sprintf("pid=%d acquired=%s\n",
		os.Getpid(), clock.Now().UTC().Format(time.RFC3339))
	_ = unix.Ftruncate(fd, 0)
	_, _ = unix.Pwrite(fd, []byte(content), 0)
}

// Release drops the flock and closes the descriptor. Safe to call once
// from a defer on any exit path.
func (g *fileGuard) Release() {
	if g.fd < 0 {
		return
	}
	_ = unix.Flock(g.fd, unix.LOCK_UN)
	_ = unix.Close(g.fd)
	g.fd = -1
}
