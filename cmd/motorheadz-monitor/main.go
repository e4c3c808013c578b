package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// motorheadz-monitor subscribes to the daemon's state websocket and shows the
// rhythm live in the terminal.
func main() {
	wsURL := flag.String("ws", "ws://127.0.0.1:3002/ws/state", "motorheadz state websocket URL")
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid websocket URL: %v\n", err)
		os.Exit(1)
	}

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect to %s: %v\n", u, err)
		os.Exit(1)
	}
	defer conn.Close()

	frames := make(chan frame, 64)
	errs := make(chan error, 1)
	go readFrames(conn, frames, errs)

	p := tea.NewProgram(newModel(u.String(), frames, errs), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readFrames decodes websocket messages until the connection fails. The
// default ping handler answers the daemon's keepalives.
func readFrames(conn *websocket.Conn, frames chan<- frame, errs chan<- error) {
	defer close(frames)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		frames <- f
	}
}
