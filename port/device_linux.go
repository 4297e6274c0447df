//go:build linux

package port

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DeviceFile is a backend over a character device, such as /dev/usbtmc0.
// The usbtmc kernel driver writes and strips the USBTMC bulk headers itself,
// so such a device is used with raw or ASCII framing; UsbBulk carries the
// USBTMC frame type.
//
// It is a Connector: when the device disappears the reader closes it and
// waits for the device node to come back before opening it again.
type DeviceFile struct {
	Base

	state AtomicOpState
	path  string
	fdEngine
}

var (
	_ Backend   = (*DeviceFile)(nil)
	_ Connector = (*DeviceFile)(nil)
)

// NewDeviceFile creates a device file backend for path.
func NewDeviceFile(path string) *DeviceFile {
	p := &DeviceFile{path: path}
	p.fdEngine = newFdEngine(&p.Base)
	p.setName(path)

	return p
}

func (p *DeviceFile) SetAttributes(path string) error {
	if path == "" {
		return errors.New("port: device path not set")
	}
	p.path = path
	p.setName(path)

	return nil
}

// Open prepares the backend. The device itself is opened by Connect.
func (p *DeviceFile) Open(cfg *Config) error {
	if !p.state.ToOpening() {
		return ErrAlreadyOpen
	}

	p.Init(cfg)
	p.readTimeout = cfg.ReadTimeout()
	p.writeTimeout = cfg.WriteTimeout()
	p.state.ToOpened()

	return nil
}

func (p *DeviceFile) Close() error {
	if !p.state.ToClosing() {
		return nil
	}
	defer p.state.ToClosed()

	p.Lock()
	defer p.Unlock()

	return p.close()
}

// Connect waits up to timeout for the device node to exist, then opens it.
func (p *DeviceFile) Connect(timeout time.Duration) error {
	if !p.state.IsOpened() {
		return ErrNotOpen
	}

	if err := waitForNode(p.path, timeout); err != nil {
		return err
	}

	p.Lock()
	defer p.Unlock()

	_ = p.close()

	return p.open(p.path)
}

func (p *DeviceFile) IsConnected() bool {
	p.Lock()
	defer p.Unlock()

	return p.isOpen()
}

func (p *DeviceFile) SetReadTimeout(d time.Duration)  { p.readTimeout = d }
func (p *DeviceFile) SetWriteTimeout(d time.Duration) { p.writeTimeout = d }

func (p *DeviceFile) CancelWait() {
	p.cancelWait()
}

func (p *DeviceFile) WaitForReadable() error {
	if !p.isOpen() {
		return ErrDisconnected
	}

	return p.lost(p.waitForReadable())
}

func (p *DeviceFile) WaitForWritable() error {
	if !p.isOpen() {
		return ErrDisconnected
	}

	return p.lost(p.waitForWritable())
}

func (p *DeviceFile) Read(buf []byte) (int, error) {
	n, err := p.read(buf)
	return n, p.lost(err)
}

func (p *DeviceFile) Write(buf []byte) (int, error) {
	n, err := p.write(buf)
	return n, p.lost(err)
}

// lost closes the descriptor when err means the device is gone.
func (p *DeviceFile) lost(err error) error {
	if errors.Is(err, ErrDisconnected) {
		_ = p.close()
	}

	return err
}

// waitForNode returns once path exists, watching its directory with fsnotify.
func waitForNode(path string, timeout time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("port: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("port: watch %s: %w", filepath.Dir(path), err)
	}

	// the node may have appeared before the watch was set up
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	target := filepath.Clean(path)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return ErrDisconnected
			}
			if filepath.Clean(ev.Name) == target && ev.Op&fsnotify.Create != 0 {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if ok {
				return fmt.Errorf("port: watch %s: %w", path, err)
			}
		case <-timer.C:
			return fmt.Errorf("%w: %s did not appear within %v", ErrDisconnected, path, timeout)
		}
	}
}
