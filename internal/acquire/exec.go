package acquire

import (
	"context"
	"os/exec"
	"syscall"
	"time"
)

// termGracePeriod is how long a cancelled child process gets to exit
// after SIGTERM before the runtime escalates to SIGKILL.
const termGracePeriod = 10 * time.Second

// newCommand builds an exec.Cmd whose context cancellation sends
// SIGTERM first and only kills the process once termGracePeriod has
// passed without it exiting. The default CommandContext behavior is an
// immediate SIGKILL, which would deny ffmpeg/tesseract/vobsub2srt any
// chance to flush and unlink their partial output.
func newCommand(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGracePeriod
	return cmd
}
