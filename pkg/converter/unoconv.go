package converter

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// UnoconvConfig describes how to reach LibreOffice.
type UnoconvConfig struct {
	UnoconvertBin string
	UnoserverBin  string
	BasePort      int
	Instances     int
	StartDaemons  bool
	StartupDelay  time.Duration
}

// Unoconv converts documents to PDF with `unoconvert` against a pool of unoserver ports.
// Each conversion checks a port out for its whole duration, so at most Instances
// conversions talk to LibreOffice at once.
type Unoconv struct {
	bin     string
	ports   chan int
	daemons []*Daemon
	logger  zerolog.Logger
}

// NewUnoconv prepares the port pool and, if asked, starts one unoserver per port.
func NewUnoconv(cfg UnoconvConfig, l zerolog.Logger) (*Unoconv, error) {
	if cfg.Instances <= 0 {
		cfg.Instances = 1
	}
	if cfg.UnoconvertBin == "" {
		cfg.UnoconvertBin = "unoconvert"
	}
	if cfg.UnoserverBin == "" {
		cfg.UnoserverBin = "unoserver"
	}

	u := &Unoconv{
		bin:    cfg.UnoconvertBin,
		ports:  make(chan int, cfg.Instances),
		logger: l.With().Str("component", "unoconv").Logger(),
	}

	for i := 0; i < cfg.Instances; i++ {
		port := cfg.BasePort + i
		if cfg.StartDaemons {
			d, err := StartDaemon(cfg.UnoserverBin, port, cfg.StartupDelay, u.logger)
			if err != nil {
				u.Close()
				return nil, err
			}
			u.daemons = append(u.daemons, d)
		}
		u.ports <- port
	}

	return u, nil
}

// ConvertFile converts sourcePath into outputDir/<stem>.pdf.
func (u *Unoconv) ConvertFile(ctx context.Context, sourcePath, outputDir string) error {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return u.convert(ctx, sourcePath, filepath.Join(outputDir, stem+".pdf"))
}

// ConvertInline round-trips data through a private temp directory.
func (u *Unoconv) ConvertInline(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docflow-")
	if err != nil {
		return nil, errors.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.docx")
	out := filepath.Join(dir, "output.pdf")

	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, errors.Wrap(err, "write input")
	}

	if err := u.convert(ctx, in, out); err != nil {
		return nil, err
	}

	pdf, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.Wrap(err, "read converted output")
	}
	return pdf, nil
}

func (u *Unoconv) convert(ctx context.Context, in, out string) error {
	var port int
	select {
	case port = <-u.ports:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { u.ports <- port }()

	u.logger.Debug().Int("port", port).Str("input", in).Msg("running unoconvert")

	cmd := exec.CommandContext(ctx, u.bin, "--port", strconv.Itoa(port), in, out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.Errorf("unoconvert exited with %s (stderr: %s)",
				exitErr.ProcessState, strings.TrimSpace(stderr.String()))
		}
		return errors.Wrap(err, "run unoconvert")
	}
	return nil
}

// Close stops every daemon this converter started.
func (u *Unoconv) Close() error {
	for _, d := range u.daemons {
		d.Stop()
	}
	u.daemons = nil
	return nil
}

// Passthrough copies input to output unchanged. It keeps the service usable
// on hosts without LibreOffice, e.g. for load testing the queue.
type Passthrough struct{}

func (Passthrough) ConvertInline(_ context.Context, data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (Passthrough) ConvertFile(_ context.Context, sourcePath, outputDir string) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return errors.Wrap(err, "read source")
	}
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if err := os.WriteFile(filepath.Join(outputDir, stem+".pdf"), data, 0o644); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}
