package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/SphrGhfri/tabchat/config"
	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/notify"
	"github.com/SphrGhfri/tabchat/internal/storage"
	"github.com/SphrGhfri/tabchat/internal/transport"
	"github.com/SphrGhfri/tabchat/pkg/logger"
	"github.com/SphrGhfri/tabchat/service"
)

var configPath = flag.String("config", "config.json", "client configuration file")

func main() {
	flag.Parse()
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		*configPath = envPath
	}

	cfg := config.MustReadConfig(*configPath)
	logg := logger.NewLogger(cfg.LogLevel, cfg.LogFile)

	kv, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer kv.Close()

	notifier := openNotifier(cfg, logg)

	chat, err := service.NewChatService(kv, service.Config{
		KeyPrefix:    cfg.KeyPrefix,
		PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		RelayURL:     cfg.RelayURL,
		Notifier:     notifier,
		Logger:       logg,
		OnMessage:    printMessage,
		OnPresenceChange: func(count int) {
			fmt.Printf("* Online: %d\n", count)
		},
		OnConnectionStatus: func(state transport.State) {
			logg.Infof("Relay connection: %s", state)
		},
	})
	if err != nil {
		log.Fatalf("Failed to build chat service: %v", err)
	}
	if err := chat.Start(); err != nil {
		log.Fatalf("Failed to start chat service: %v", err)
	}
	defer chat.Close()

	self := chat.Identity()
	fmt.Printf("You are %s. Type a message, or /name, /who, /clear, /export, /quit:\n",
		self.DisplayName)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupt received, leaving chat...")
		chat.Close()
		kv.Close()
		os.Exit(0)
	}()

	runInputLoop(chat)
}

func openStore(cfg config.Config) (storage.KV, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "redis":
		return storage.NewRedisKV(cfg.RedisURL)
	case "pebble", "":
		return storage.NewPebbleKV(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openNotifier(cfg config.Config, logg logger.Logger) notify.Notifier {
	if cfg.NATSURL == "" {
		return notify.Noop{}
	}
	n, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.KeyPrefix)
	if err != nil {
		logg.Warnf("NATS unavailable, polling only: %v", err)
		return notify.Noop{}
	}
	return n
}

func runInputLoop(chat service.ChatService) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/who":
			fmt.Printf("* Online: %d\n", chat.ActiveCount())
		case line == "/clear":
			if !confirm(scanner, "Clear all chat messages? This cannot be undone.") {
				continue
			}
			if err := chat.ClearLog(); err != nil {
				fmt.Printf("! %v\n", err)
			}
		case line == "/export":
			exportToFile(chat)
		case strings.HasPrefix(line, "/name "):
			if err := chat.SetDisplayName(strings.TrimPrefix(line, "/name ")); err != nil {
				fmt.Printf("! %v\n", err)
			}
		default:
			if _, err := chat.SendMessage(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func confirm(scanner *bufio.Scanner, prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "y")
}

func exportToFile(chat service.ChatService) {
	blob, err := chat.ExportSnapshot()
	if err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	name := fmt.Sprintf("chat_export_%d.json", time.Now().UnixMilli())
	if err := os.WriteFile(name, blob, 0o644); err != nil {
		fmt.Printf("! %v\n", err)
		return
	}
	fmt.Printf("* Exported to %s\n", name)
}

func printMessage(msg domain.ChatMessage) {
	stamp := msg.Time().Format("15:04")
	if msg.System {
		fmt.Printf("* [%s] %s\n", stamp, msg.Body)
		return
	}
	fmt.Printf("[%s] %s: %s\n", stamp, msg.SenderName, msg.Body)
}
