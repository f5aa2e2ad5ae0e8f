package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/doubtline/internal/client"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/proto"
)

var (
	chatURL      string
	chatRoom     string
	chatToken    string
	chatChannels []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room from the terminal and chat",
	Long: `chat keeps one connection to the server, reconnecting with backoff and
rejoining the room after network failures. Lines read from stdin are sent to
the room. With --channel, application events on those channels are printed
too; if the websocket cannot be reached the first channel is followed over
the one-way stream instead.`,
	RunE: func(*cobra.Command, []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.UpdateFrom(config.Config{Client: config.ClientConfig{ServerURL: chatURL}})
		cc := cfg.Client
		if len(chatChannels) > 0 {
			cc.FallbackChannel = chatChannels[0]
		}

		dialers := []client.Dialer{&client.WSDialer{URL: cc.ServerURL, Token: chatToken, ReadLimit: cfg.MaxMessageBytes}}
		if cc.Fallback && cc.FallbackChannel != "" {
			streamURL, err := client.StreamURL(cc.ServerURL, cc.FallbackChannel)
			if err != nil {
				return err
			}
			dialers = append(dialers, &client.StreamDialer{URL: streamURL, Token: chatToken})
		}

		m, err := client.New(client.Config{
			Dialers:     dialers,
			MaxAttempts: cc.MaxAttempts,
			Backoff: client.Backoff{
				Base:       cc.BaseDelay,
				Multiplier: cc.Multiplier,
				Max:        cc.MaxDelay,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runChat(ctx, m)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "", "websocket address (default from config client.server_url)")
	chatCmd.Flags().StringVar(&chatRoom, "room", "general", "room to join")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "identity token")
	chatCmd.Flags().StringSliceVar(&chatChannels, "channel", nil, "application event channels to follow")
	rootCmd.AddCommand(chatCmd)
}

func runChat(ctx context.Context, m *client.Manager) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.OnStateChange(func(s client.State) {
		fmt.Printf("* %s\n", s)
		if s == client.Failed {
			fmt.Println("* could not reconnect, giving up")
			cancel()
		}
	})
	m.OnMessage(func(msg proto.NewMessage) {
		fmt.Printf("[%s] %s: %s\n", msg.RoomKey, senderName(msg.Sender, msg.SenderID), msg.Content)
	})
	m.OnTyping(func(ev proto.UserTyping, active bool) {
		if active {
			fmt.Printf("[%s] %s is typing...\n", ev.RoomKey, senderName(ev.DisplayName, ev.SenderIdentity))
		}
	})
	m.OnPresence(func(ev proto.UserPresence, joined bool) {
		verb := "left"
		if joined {
			verb = "joined"
		}
		fmt.Printf("[%s] %s %s\n", ev.RoomKey, senderName(ev.DisplayName, ev.UserID), verb)
	})
	m.OnEvent(func(ev proto.ChannelEvent) {
		fmt.Printf("<%s> %s %s\n", ev.Channel, ev.Kind, ev.Payload)
	})

	m.JoinRoom(chatRoom)
	for _, ch := range chatChannels {
		m.Subscribe(ch)
	}
	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer m.Disconnect()

	fmt.Printf("Joining room %s. Type messages and press Enter to send. Ctrl+C to exit.\n", chatRoom)
	writeLoop(ctx, m)
	return nil
}

func writeLoop(ctx context.Context, m *client.Manager) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if !m.Send(chatRoom, text) {
				fmt.Printf("* not connected (%s), message dropped\n", m.State())
			}
		}
	}
}

func senderName(display, id string) string {
	if display != "" {
		return display
	}
	return id
}
