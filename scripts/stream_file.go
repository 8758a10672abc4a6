// Command stream_file drives a running relay: it asks the server to stream
// a local audio file to the provider and prints every notice until the
// session's responses are persisted.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:5000/ws", "relay websocket url")
	file := flag.String("file", "", "audio file path, as seen by the server")
	model := flag.String("model", "", "override transcription model")
	stopAfter := flag.Duration("stop_after", 0, "cancel the stream after this duration")
	flag.Parse()
	if *file == "" {
		fmt.Println("usage: stream_file -file=/path/to/audio.wav [-addr=ws://host:port/ws]")
		os.Exit(1)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	config := map[string]any{}
	if *model != "" {
		config["model"] = *model
	}
	start := map[string]any{
		"event": "start_file_stream",
		"data":  map[string]any{"file_path": *file, "config": config},
	}
	if err := conn.WriteJSON(start); err != nil {
		fmt.Println("start error:", err)
		os.Exit(1)
	}

	if *stopAfter > 0 {
		go func() {
			time.Sleep(*stopAfter)
			_ = conn.WriteJSON(map[string]any{"event": "stop_file_stream"})
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.WriteJSON(map[string]any{"event": "stop_file_stream"})
		conn.Close()
	}()

	for {
		var envelope struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		fmt.Printf("%s %s\n", envelope.Event, string(envelope.Data))
		switch envelope.Event {
		case "responses_saved", "responses_save_error", "stream_error":
			return
		}
	}
}
