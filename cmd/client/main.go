package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/relay"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerAddress string `env:"RELAY_SERVER_ADDR,default=localhost:8080"`
	Email         string `env:"RELAY_EMAIL,required=true"`
	Password      string `env:"RELAY_PASSWORD,required=true"`
	RoomID        string `env:"RELAY_ROOM_ID,required=true"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles login, the websocket session, and the read/write loops. The
// pattern keeps resource cleanup in defers and error propagation explicit.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Login over HTTP to obtain the session token.
	token, userID, err := login(config)
	if err != nil {
		return exitRuntime, err
	}

	// 4. Open the socket and register presence.
	ws, _, err := websocket.DefaultDialer.DialContext(ctx,
		fmt.Sprintf("ws://%s/ws", config.ServerAddress), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		color.Gray.Println("Closing connection...")
		_ = ws.Close()
	}()

	var ackCounter atomic.Uint64
	ackCounter.Add(1)
	if err := writeFrame(ws, relay.ClientFrame{
		Event: relay.EventNewConnection,
		Ack:   ackCounter.Load(),
		Token: token,
		Data:  mustMarshal(relay.NewConnectionPayload{Identity: relay.Identity{ID: userID}}),
	}); err != nil {
		return exitRuntime, fmt.Errorf("presence registration failed: %w", err)
	}

	header := color.New(color.BgBlack, color.FgGreen).
		Render(fmt.Sprintf(" Connected to %s, room %s (Ctrl+C to quit) ", config.ServerAddress, config.RoomID))
	fmt.Println(header)

	// 5. Reception loop in its own goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		receiveLoop(ws, userID)
	}()

	// 6. Stdin loop: every line becomes a clientMessage.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			err := writeFrame(ws, relay.ClientFrame{
				Event: relay.EventClientMessage,
				Ack:   ackCounter.Add(1),
				Data: mustMarshal(relay.ClientMessagePayload{
					RoomID: config.RoomID,
					Text:   text,
				}),
			})
			if err != nil {
				color.Red.Printf("Send failed: %v\n", err)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return exitOK, nil
}

func receiveLoop(ws *websocket.Conn, selfID string) {
	for {
		var frame relay.ServerFrame
		if err := ws.ReadJSON(&frame); err != nil {
			color.Red.Printf("Connection lost: %v\n", err)
			return
		}

		raw, _ := json.Marshal(frame.Data)
		switch frame.Event {
		case relay.EventAck:
			var response relay.Response
			_ = json.Unmarshal(raw, &response)
			if !response.OK {
				color.Red.Printf("[%s] %s\n", frame.Event, response.Message)
			}
		case relay.EventServerMessage, relay.EventServerEdited:
			var payload relay.ServerMessagePayload
			_ = json.Unmarshal(raw, &payload)
			prefix := payload.Message.SenderID
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			render := color.Cyan
			if payload.Message.SenderID == selfID {
				render = color.Blue
			}
			suffix := ""
			if frame.Event == relay.EventServerEdited {
				suffix = color.Gray.Render(" (edited)")
			}
			render.Printf("[%s] %s%s\n", prefix, payload.Message.Text, suffix)
		case relay.EventRemoveMessage:
			var payload relay.RemovedMessagePayload
			_ = json.Unmarshal(raw, &payload)
			color.Gray.Printf("Message %s removed\n", payload.MessageID)
		case relay.EventUsersList:
			var payload relay.UsersListPayload
			_ = json.Unmarshal(raw, &payload)
			for _, user := range payload.Users {
				state := color.Green.Render("online")
				if !user.IsOnline {
					state = color.Gray.Render("offline")
				}
				fmt.Printf("%s %s is %s\n", user.FirstName, user.LastName, state)
			}
		case relay.EventRoomsList:
			var payload relay.RoomsListPayload
			_ = json.Unmarshal(raw, &payload)
			color.Yellow.Printf("Room %q is now available\n", payload.Room.Name)
		}
	}
}

func login(config Config) (token, userID string, err error) {
	body := mustMarshal(auth.LoginRequest{Email: config.Email, Password: config.Password})
	url := fmt.Sprintf("http://%s/auth/login", config.ServerAddress)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	var payload struct {
		Token string            `json:"token"`
		User  domain.PublicUser `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", fmt.Errorf("malformed login response: %w", err)
	}
	return payload.Token, payload.User.ID, nil
}

func writeFrame(ws *websocket.Conn, frame relay.ClientFrame) error {
	return ws.WriteJSON(frame)
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
