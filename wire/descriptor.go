package wire

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ConnectionInfo is the connection descriptor consumed by a spawned kernel:
// one port per channel plus the transport, bind address, and signing key.
type ConnectionInfo struct {
	ControlPort     int    `json:"control_port"`
	ShellPort       int    `json:"shell_port"`
	HBPort          int    `json:"hb_port"`
	StdinPort       int    `json:"stdin_port"`
	IOPubPort       int    `json:"iopub_port"`
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	SignatureScheme string `json:"signature_scheme"`
	Key             string `json:"key"`
}

// PortFor returns the port assigned to the given channel.
func (ci *ConnectionInfo) PortFor(channel Channel) int {
	switch channel {
	case ChannelControl:
		return ci.ControlPort
	case ChannelShell:
		return ci.ShellPort
	case ChannelStdin:
		return ci.StdinPort
	case ChannelIOPub:
		return ci.IOPubPort
	case ChannelHeartbeat:
		return ci.HBPort
	default:
		return 0
	}
}

// Address returns the dialable address for the given channel.
func (ci *ConnectionInfo) Address(channel Channel) string {
	return fmt.Sprintf("%s:%d", ci.IP, ci.PortFor(channel))
}

// WriteConnectionFile writes the descriptor to a uniquely named JSON file
// under dir and returns its path. The file belongs to the session that
// wrote it and is removed on disposal.
func WriteConnectionFile(dir string, info *ConnectionInfo) (string, error) {
	name := fmt.Sprintf("kernel-%s.json", uuid.Must(uuid.NewV7()).String())
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode connection file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write connection file: %w", err)
	}

	return path, nil
}

// ReadConnectionFile loads a descriptor written by WriteConnectionFile.
// Kernel-side peers use it to learn where to connect.
func ReadConnectionFile(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file: %w", err)
	}

	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse connection file: %w", err)
	}

	return &info, nil
}
