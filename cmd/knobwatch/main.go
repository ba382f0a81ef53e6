package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	wsURL     string
	knobID    string
	rawOutput bool
)

var rootCmd = &cobra.Command{
	Use:          "knobwatch",
	Short:        "Print knobd state notifications as they arrive",
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watch(ctx, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&wsURL, "ws", "ws://127.0.0.1:8080/ws", "knobd websocket URL")
	rootCmd.Flags().StringVarP(&knobID, "knob", "k", "", "Only show notifications for this knob")
	rootCmd.Flags().BoolVar(&rawOutput, "raw", false, "Print frames as received")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func watch(ctx context.Context, out io.Writer) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The daemon pings us; answering resets our deadline too.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan error, 1)
	go func() {
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					done <- fmt.Errorf("websocket error: %w", err)
					return
				}
				done <- nil
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if rawOutput {
				fmt.Fprintf(out, "%s\n", message)
				continue
			}
			if line, ok := formatFrame(message, knobID); ok {
				fmt.Fprintln(out, line)
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
		return nil
	case err := <-done:
		log.Printf("connection closed")
		return err
	}
}

type frame struct {
	Type string          `json:"type"`
	Knob string          `json:"knob"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type valueData struct {
	Value struct {
		Number float64 `json:"number"`
		StepID string  `json:"step_id"`
	} `json:"value"`
	Revision uint64 `json:"revision"`
}

// formatFrame renders one daemon frame as a single line. Frames for other
// knobs are skipped when filter is set.
func formatFrame(msg []byte, filter string) (string, bool) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return fmt.Sprintf("[TEXT] %s", msg), true
	}
	if filter != "" && f.Knob != "" && f.Knob != filter {
		return "", false
	}

	ts := ""
	if !f.TS.IsZero() {
		ts = f.TS.Local().Format("15:04:05.000") + " "
	}

	switch f.Type {
	case "state_init":
		var d struct {
			ClientID string            `json:"client_id"`
			Knobs    []json.RawMessage `json:"knobs"`
		}
		_ = json.Unmarshal(f.Data, &d)
		return fmt.Sprintf("%s[INIT] client=%s knobs=%d", ts, d.ClientID, len(d.Knobs)), true

	case "commit", "synced":
		var d valueData
		_ = json.Unmarshal(f.Data, &d)
		v := fmt.Sprintf("%g", d.Value.Number)
		if d.Value.StepID != "" {
			v = d.Value.StepID
		}
		return fmt.Sprintf("%s[%s] %s = %s (rev %d)", ts, strings.ToUpper(f.Type), f.Knob, v, d.Revision), true

	case "live_change":
		var d struct {
			Value float64 `json:"value"`
		}
		_ = json.Unmarshal(f.Data, &d)
		return fmt.Sprintf("%s[LIVE] %s ~ %g", ts, f.Knob, d.Value), true

	case "pending", "pending_discarded", "hover":
		var d struct {
			Step struct {
				ID string `json:"id"`
			} `json:"step"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(f.Data, &d)
		line := fmt.Sprintf("%s[%s] %s %s", ts, strings.ToUpper(f.Type), f.Knob, d.Step.ID)
		if d.Reason != "" {
			line += " (" + d.Reason + ")"
		}
		return line, true

	default:
		return fmt.Sprintf("%s[%s] %s %s", ts, strings.ToUpper(f.Type), f.Knob, f.Data), true
	}
}
