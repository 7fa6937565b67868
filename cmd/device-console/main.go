// Command device-console emulates one device on the bus: it reports its
// actions, keeps a heartbeat, shows the tick events addressed to it and
// forwards typed commands to the simulation.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"housesim/internal/config"
	"housesim/internal/mqtt"
)

const help = `commands: start | pause | step | speed <factor> | safe [device] | release [device] | actions a,b,c | status | help`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.LoadDeviceConsoleConfig()
	if len(cfg.Actions) == 0 {
		logger.Error("DEVICE_ACTIONS must list at least one action")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := newConsoleState(cfg.DeviceID, cfg.Actions)
	client := mqtt.NewDeviceClient(mqtt.HubConfig{
		BrokerURL:   cfg.MQTTBrokerURL,
		ClientID:    cfg.MQTTClientID,
		Username:    cfg.MQTTUsername,
		Password:    cfg.MQTTPassword,
		TopicPrefix: cfg.MQTTTopicPrefix,
	}, cfg.DeviceID, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Error("connect mqtt failed", "error", err)
		os.Exit(1)
	}
	if err := client.Announce(state.snapshot().Version, cfg.Actions); err != nil {
		logger.Error("announce capabilities failed", "error", err)
		os.Exit(1)
	}
	if err := client.OnEvents(state.record); err != nil {
		logger.Error("subscribe events failed", "error", err)
		os.Exit(1)
	}
	logger.Info("device online", "device_id", cfg.DeviceID, "actions", cfg.Actions)

	go func() {
		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Heartbeat(); err != nil {
					logger.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, state.snapshot())
	})
	r.Post("/report-actions", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Actions []string `json:"actions"`
		}
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil || len(in.Actions) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "actions is required"})
			return
		}
		version := state.setActions(in.Actions)
		if err := client.Announce(version, in.Actions); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": version})
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("device console http started", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	go readCommands(ctx, client, state, cfg.DeviceID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	// let the offline message go out before exit
	time.Sleep(200 * time.Millisecond)
}

// readCommands returns on stdin EOF; the device stays online until a signal.
func readCommands(ctx context.Context, client *mqtt.DeviceClient, state *consoleState, self string) {
	fmt.Println(help)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "help":
			fmt.Println(help)
			continue
		case line == "status":
			fmt.Println(state.summary())
			continue
		case strings.HasPrefix(line, "actions "):
			actions := splitActions(strings.TrimPrefix(line, "actions "))
			if len(actions) == 0 {
				fmt.Println("actions: need at least one name")
				continue
			}
			version := state.setActions(actions)
			if err := client.Announce(version, actions); err != nil {
				fmt.Println("announce failed:", err)
				continue
			}
			fmt.Printf("announced v%d %v\n", version, actions)
			continue
		}

		cmd, err := parseCommand(line, self)
		if err != nil {
			fmt.Println(err)
			continue
		}
		reqCtx, reqCancel := context.WithTimeout(ctx, 30*time.Second)
		res, err := client.Control(reqCtx, cmd)
		reqCancel()
		if err != nil {
			fmt.Println("command failed:", err)
			continue
		}
		if len(res.Events) > 0 {
			state.record(res.Events)
		}
		state.appendLog(fmt.Sprintf("%s ok", cmd.Command))
		fmt.Printf("%s ok (%d events)\n", cmd.Command, len(res.Events))
	}
}

func splitActions(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
