package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// motorheadz-ctl - Command-line IPC Client
// ============================================================================
// Drives the motorheadz daemon over its Unix socket: presses keys, injects
// light sensor samples and prints the current state.
//
// Usage:
//   motorheadz-ctl tap
//   motorheadz-ctl press aux
//   motorheadz-ctl sensor 200
//   motorheadz-ctl state
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/motorheadz.sock)
// ============================================================================

// Event payloads (duplicated from the daemon for a standalone binary)
type keyEvent struct {
	Key string `json:"key"`
}

type sensorSample struct {
	Value uint8 `json:"value"`
}

// eventEnvelope wraps events for JSON
type eventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

// defaultTapHold keeps the key down for several slow ticks so the debouncer
// sees the press at any clock setting.
const defaultTapHold = 80 * time.Millisecond

func main() {
	socketPath := "/tmp/motorheadz.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := client{socketPath: socketPath}
	if err := c.dispatch(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	socketPath string
}

func (c client) dispatch(args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "press", "down":
		return c.sendOK(eventEnvelope{Type: "key_down", Data: keyEvent{Key: keyArg(rest)}})

	case "release", "up":
		return c.sendOK(eventEnvelope{Type: "key_up", Data: keyEvent{Key: keyArg(rest)}})

	case "tap":
		hold := defaultTapHold
		key := "tap"
		for _, a := range rest {
			if ms, err := strconv.Atoi(a); err == nil {
				if ms <= 0 {
					return fmt.Errorf("tap hold must be > 0 ms")
				}
				hold = time.Duration(ms) * time.Millisecond
				continue
			}
			key = a
		}
		if _, err := c.send(eventEnvelope{Type: "key_down", Data: keyEvent{Key: key}}); err != nil {
			return err
		}
		time.Sleep(hold)
		return c.sendOK(eventEnvelope{Type: "key_up", Data: keyEvent{Key: key}})

	case "sensor":
		if len(rest) < 1 {
			return fmt.Errorf("sensor requires a value between 0 and 255")
		}
		v, err := strconv.ParseUint(rest[0], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid sensor value %q: must be between 0 and 255", rest[0])
		}
		return c.sendOK(eventEnvelope{Type: "sensor_sample", Data: sensorSample{Value: uint8(v)}})

	case "state", "status":
		resp, err := c.send(eventEnvelope{Type: "get_state"})
		if err != nil {
			return err
		}
		var pretty map[string]any
		if err := json.Unmarshal(resp.State, &pretty); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case "help", "-h", "--help":
		printUsage()
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func keyArg(rest []string) string {
	if len(rest) > 0 {
		return strings.ToLower(rest[0])
	}
	return "tap"
}

func (c client) sendOK(env eventEnvelope) error {
	if _, err := c.send(env); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func (c client) send(env eventEnvelope) (ipcResponse, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal %s: %w", env.Type, err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipcResponse{}, fmt.Errorf("send %s: %w", env.Type, err)
	}

	var response ipcResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `motorheadz-ctl - Control the motorheadz daemon via IPC

Usage:
  motorheadz-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/motorheadz.sock)

Commands:
  press, down [key]       Hold a key down (tap or aux, default tap)
  release, up [key]       Release a key
  tap [key] [ms]          Press and release a key, holding it ms (default 80)
  sensor <0-255>          Set the static light sensor value
  state, status           Print the current state as JSON
  help, -h, --help        Show this help message

Examples:
  motorheadz-ctl tap; sleep 0.6; motorheadz-ctl tap
  motorheadz-ctl tap 2000        # long press toggles the overlay rhythm
  motorheadz-ctl press tap; motorheadz-ctl tap aux; motorheadz-ctl release tap
  motorheadz-ctl -socket /run/motorheadz.sock state
`)
}
