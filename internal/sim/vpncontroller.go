// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sim

import (
	"context"
	"fmt"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl"

	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/ports"
)

// VPNServiceController is the reference ports.VPNServiceController the
// VirtualDevice backend drives: it treats an existing WireGuard interface as
// the "packet engine" and uses wgctrl only to observe whether that interface
// actually has a live peer configuration, rather than to configure it (key
// and peer provisioning are out of scope here — see §4.6 non-goals).
type VPNServiceController struct {
	interfaceName string
	logger        *logging.Logger
	newClient     func() (wgClient, error)

	mu      sync.Mutex
	running bool
}

// wgClient narrows wgctrl.Client to the two calls this controller needs, so
// tests can substitute a fake without a real WireGuard interface present.
type wgClient interface {
	Device(name string) (*deviceInfo, error)
	Close() error
}

// deviceInfo mirrors the wgtypes.Device fields this controller inspects.
type deviceInfo struct {
	PeerCount int
}

// realWgClient adapts *wgctrl.Client to wgClient.
type realWgClient struct{ c *wgctrl.Client }

func (r *realWgClient) Device(name string) (*deviceInfo, error) {
	d, err := r.c.Device(name)
	if err != nil {
		return nil, err
	}
	return &deviceInfo{PeerCount: len(d.Peers)}, nil
}

func (r *realWgClient) Close() error { return r.c.Close() }

// NewVPNServiceController constructs a controller observing interfaceName
// (e.g. "wg0") through a real wgctrl client.
func NewVPNServiceController(interfaceName string, logger *logging.Logger) *VPNServiceController {
	if logger == nil {
		logger = logging.Default()
	}
	return &VPNServiceController{
		interfaceName: interfaceName,
		logger:        logger.WithComponent("sim-vpncontroller"),
		newClient: func() (wgClient, error) {
			c, err := wgctrl.New()
			if err != nil {
				return nil, err
			}
			return &realWgClient{c}, nil
		},
	}
}

var _ ports.VPNServiceController = (*VPNServiceController)(nil)

// Start marks the packet engine as running after confirming the WireGuard
// interface is reachable through wgctrl; it does not provision keys or
// peers.
func (c *VPNServiceController) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := c.newClient()
	if err != nil {
		return fmt.Errorf("open wireguard control client: %w", err)
	}
	defer client.Close()

	if _, err := client.Device(c.interfaceName); err != nil {
		return fmt.Errorf("wireguard interface %s not available: %w", c.interfaceName, err)
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.logger.Info("virtual device controller started", "interface", c.interfaceName)
	return nil
}

// Stop marks the packet engine as stopped. Tearing the WireGuard interface
// itself down is an OS/VPN-framework responsibility outside this contract.
func (c *VPNServiceController) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.logger.Info("virtual device controller stopped", "interface", c.interfaceName)
	return nil
}

// IsRunning reports the controller's last-known running state.
func (c *VPNServiceController) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
