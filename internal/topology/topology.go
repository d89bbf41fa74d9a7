// Package topology wraps the external network simulator that provisions
// and reclaims the simulated overlay network.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/overbench/overbench/internal/proc"
)

// clientConfigRel is the fixed location of the client-under-test's
// configuration file inside a provisioned network directory.
const clientConfigRel = "conf/latticed.toml"

// Handle names the root of all per-node state for one provisioning
// session. It is owned by a single pipeline run and invalid after
// teardown.
type Handle struct {
	Dir string
}

// Valid reports whether the handle names an existing, non-empty
// directory.
func (h Handle) Valid() bool {
	if h.Dir == "" {
		return false
	}
	entries, err := os.ReadDir(h.Dir)
	return err == nil && len(entries) > 0
}

// ClientConfig returns the path of the client-under-test's configuration
// file inside the provisioned network.
func (h Handle) ClientConfig() string {
	return filepath.Join(h.Dir, filepath.FromSlash(clientConfigRel))
}

// Provisioner drives the external topology simulator.
type Provisioner struct {
	bin     string
	netDir  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProvisioner returns a Provisioner that manages netDir with the
// given simulator binary.
func NewProvisioner(bin, netDir string, timeout time.Duration, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		bin:     bin,
		netDir:  netDir,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "provisioner")),
	}
}

// Setup provisions the network and returns its handle. The simulator
// writes per-node configuration and key material under the network
// directory; an empty directory after a zero exit is still a failure.
func (p *Provisioner) Setup(ctx context.Context) (Handle, error) {
	cmd := &proc.Cmd{
		Name:    "provisioner",
		Path:    p.bin,
		Args:    []string{"setup", p.netDir},
		Timeout: p.timeout,
		Logger:  p.logger,
	}
	if err := cmd.Run(ctx); err != nil {
		return Handle{}, err
	}

	handle := Handle{Dir: p.netDir}
	if !handle.Valid() {
		return Handle{}, fmt.Errorf("provisioner reported success but %s is missing or empty", p.netDir)
	}

	p.logger.Info("network provisioned", slog.String("net_dir", p.netDir))
	return handle, nil
}

// Teardown reclaims all state referenced by the handle.
func (p *Provisioner) Teardown(ctx context.Context, h Handle) error {
	cmd := &proc.Cmd{
		Name:    "provisioner",
		Path:    p.bin,
		Args:    []string{"teardown", h.Dir},
		Timeout: p.timeout,
		Logger:  p.logger,
	}
	if err := cmd.Run(ctx); err != nil {
		return err
	}
	p.logger.Info("network torn down", slog.String("net_dir", h.Dir))
	return nil
}
