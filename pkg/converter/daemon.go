package converter

import (
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Daemon is a running unoserver process listening on Port.
type Daemon struct {
	cmd    *exec.Cmd
	Port   int
	logger zerolog.Logger
}

// StartDaemon launches `<bin> --daemon --port <port>` and gives it startupDelay to come up.
func StartDaemon(bin string, port int, startupDelay time.Duration, l zerolog.Logger) (*Daemon, error) {
	cmd := exec.Command(bin, "--daemon", "--port", strconv.Itoa(port))
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s on port %d", bin, port)
	}

	// unoserver has no readiness probe
	time.Sleep(startupDelay)

	d := &Daemon{
		cmd:    cmd,
		Port:   port,
		logger: l.With().Int("port", port).Logger(),
	}
	d.logger.Info().Msg("unoserver started")
	return d, nil
}

// Stop kills the daemon and reaps it.
func (d *Daemon) Stop() {
	d.logger.Info().Msg("closing unoserver")
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
}
