package systemd

import (
	"fmt"
	"net"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds systemd-activated listeners for the daemon's servers.
type Listeners struct {
	Control   net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors. Returns
// nil listeners when not running under socket activation.
//
// Names map via FileDescriptorName= in trailtracker.socket: "control" for
// the control API, "metrics" for the Prometheus endpoint.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false)
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("get systemd listeners: %w", err)
	}

	if lns, ok := named["control"]; ok && len(lns) > 0 {
		listeners.Control = lns[0]
	}
	if lns, ok := named["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 to systemd once startup is finished. Not
// running under systemd is not an error.
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("sd_notify ready: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 to systemd at the start of shutdown.
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyWatchdog pets the systemd watchdog. Call periodically when
// WatchdogSec is configured.
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("sd_notify watchdog: %w", err)
	}
	return nil
}

// IsSystemdService reports whether the process runs under systemd.
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
