package vhci

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// PlugRequest is PLUGIN_HARDWARE's input (§6 control surface), grounded
// on original_source's vhci.h imported_device_location.
type PlugRequest struct {
	Host    string
	Service string
	BusID   string
	Serial  string // optional
}

// PortStatus answers GET_PORT_STATUS (§6).
type PortStatus struct {
	Enabled   bool
	Connected bool
}

// Controller is the engine's control surface (§6): the four device-
// control requests a CLI or a driver's ioctl dispatcher issues against
// the virtual host controller. It owns every VirtualDevice's lifetime.
type Controller struct {
	log    *logrus.Entry
	config Config

	mu      sync.Mutex
	devices map[int]*VirtualDevice // port -> device
	nextPort int
}

// NewController builds an empty virtual host controller (§3 "VirtualDevice
// ... one per imported remote USB device", plural, owned by one
// controller).
func NewController(log *logrus.Entry, config Config) *Controller {
	return &Controller{
		log:     log,
		config:  config,
		devices: make(map[int]*VirtualDevice),
	}
}

// PluginHardware implements PLUGIN_HARDWARE: runs the handshake, imports
// descriptors, and starts the Connection I/O Loop, returning the assigned
// port (§6).
func (c *Controller) PluginHardware(ctx context.Context, req PlugRequest) (port int, err error) {
	log := c.log.WithFields(logrus.Fields{"busid": req.BusID, "host": req.Host})

	conn, err := dialDevice(ctx, log, req.Host, req.Service, c.config.ConnectTimeout)
	if err != nil {
		return 0, err
	}

	udev, id, err := importDevice(conn, req.BusID)
	if err != nil {
		conn.Close()
		return 0, err
	}

	imported := ImportedDevice{Host: req.Host, Service: req.Service, BusID: req.BusID, Devid: id}
	dev := newVirtualDevice(log, imported, conn, c.config.Keepalive())

	if err := fetchInitialDescriptors(dev, udev); err != nil {
		conn.Close()
		return 0, fmt.Errorf("import %s: %w", req.BusID, err)
	}

	port = c.registerLocked(dev)
	dev.imported.Port = port
	dev.setState(StatePlugged)

	go func() {
		err := runConnection(context.Background(), dev)
		log.WithError(err).Info("connection loop exited")
		c.unregister(port)
	}()

	return port, nil
}

func (c *Controller) registerLocked(dev *VirtualDevice) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPort++
	port := c.nextPort
	c.devices[port] = dev
	return port
}

func (c *Controller) unregister(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, port)
}

// PlugoutHardware implements PLUGOUT_HARDWARE: port <= 0 means "all
// devices" (§6).
func (c *Controller) PlugoutHardware(port int) error {
	if port <= 0 {
		for _, dev := range c.snapshot() {
			c.plugoutOne(dev)
		}
		return nil
	}

	c.mu.Lock()
	dev, ok := c.devices[port]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no device on port %d", ErrInvalidRequest, port)
	}
	c.plugoutOne(dev)
	return nil
}

func (c *Controller) plugoutOne(dev *VirtualDevice) {
	dev.unplug(ErrDeviceNotConnected)
	dev.closeSocket()
	c.unregister(dev.imported.Port)
}

func (c *Controller) snapshot() []*VirtualDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*VirtualDevice, 0, len(c.devices))
	for _, dev := range c.devices {
		out = append(out, dev)
	}
	return out
}

// GetImportedDevices implements GET_IMPORTED_DEVICES (§6).
func (c *Controller) GetImportedDevices() []ImportedDevice {
	out := make([]ImportedDevice, 0)
	for port, dev := range c.snapshot2() {
		imp := dev.imported
		imp.Port = port
		out = append(out, imp)
	}
	return out
}

func (c *Controller) snapshot2() map[int]*VirtualDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]*VirtualDevice, len(c.devices))
	for port, dev := range c.devices {
		out[port] = dev
	}
	return out
}

// lookup resolves port to its VirtualDevice for the URB-level entry points
// below, used instead of duplicating the inline map read everywhere.
func (c *Controller) lookup(port int) (*VirtualDevice, error) {
	c.mu.Lock()
	dev, ok := c.devices[port]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no device on port %d", ErrInvalidRequest, port)
	}
	return dev, nil
}

// SubmitURB hands urb to the device on port (§2: "OS stack submits a
// URB"), the entry point the out-of-scope bus driver calls in place of a
// real Windows URB submission.
func (c *Controller) SubmitURB(ctx context.Context, port int, urb *URB, notify CompletionFunc) error {
	dev, err := c.lookup(port)
	if err != nil {
		return err
	}
	return dev.SubmitURB(ctx, urb, notify)
}

// CancelURB implements the host-initiated single-URB cancel path (§5).
func (c *Controller) CancelURB(port int, seqnum uint32) error {
	dev, err := c.lookup(port)
	if err != nil {
		return err
	}
	dev.cancelRequest(seqnum)
	return nil
}

// AbortPipe cancels every outstanding URB queued against handle on port
// (§4.4, §5).
func (c *Controller) AbortPipe(port int, handle PipeHandle) error {
	dev, err := c.lookup(port)
	if err != nil {
		return err
	}
	dev.abortPipe(handle)
	return nil
}

// GetPortStatus implements GET_PORT_STATUS (§6).
func (c *Controller) GetPortStatus(port int) (PortStatus, error) {
	c.mu.Lock()
	dev, ok := c.devices[port]
	c.mu.Unlock()
	if !ok {
		return PortStatus{}, fmt.Errorf("%w: no device on port %d", ErrInvalidRequest, port)
	}

	state := dev.State()
	return PortStatus{
		Enabled:   state == StatePlugged,
		Connected: state == StatePlugged || state == StateConnecting,
	}, nil
}
