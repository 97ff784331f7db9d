package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
)

// FileBootManager stands in for real UEFI boot-variable manipulation: it
// records the requested target in a JSON file, documenting the semantics a
// production UEFI implementation would apply to NVRAM.
type FileBootManager struct {
	Path string
}

type bootTarget struct {
	BootOptionID uint16 `json:"boot_option_id"`
	Entry        []byte `json:"entry"`
}

func (b *FileBootManager) SetRebootTarget(bootOptionID uint16, entry []byte) error {
	data, err := json.Marshal(bootTarget{BootOptionID: bootOptionID, Entry: entry})
	if err != nil {
		return fmt.Errorf("agent: marshal boot target: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return fmt.Errorf("agent: create boot target dir: %w", err)
	}
	if err := os.WriteFile(b.Path, data, 0o644); err != nil {
		return fmt.Errorf("agent: write boot target: %w", err)
	}
	return nil
}

// LoggingDHCPWriter is the DHCPWriter stub: it logs the hostmap it would
// have written rather than touching any real dnsmasq/DHCP configuration.
type LoggingDHCPWriter struct {
	Logger *observability.Logger
}

func (d *LoggingDHCPWriter) Write(hostmap map[string]string) error {
	d.Logger.Info(fmt.Sprintf("dhcp writer stub: would write %d host entries", len(hostmap)))
	return nil
}

// NoopPingListener is the PingListener stub.
type NoopPingListener struct{}

func (NoopPingListener) Listen() error { return nil }

// NoopSerialUI is the SerialUI stub.
type NoopSerialUI struct{}

func (NoopSerialUI) SetStatus(string) {}

// SyscallExecutor is the production OSExecutor, issuing a real reboot or
// shutdown via the kernel's reboot(2) syscall.
type SyscallExecutor struct{}

func (SyscallExecutor) Reboot() error {
	if err := syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("agent: reboot: %w", err)
	}
	return nil
}

func (SyscallExecutor) Shutdown() error {
	if err := syscall.Reboot(syscall.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		return fmt.Errorf("agent: shutdown: %w", err)
	}
	return nil
}
