// Терминальный клиент дашборда: подключается к realtime-ядру, подписывается
// на комнаты, шлёт сообщения оптимистично и показывает ленту событий.
// Для отладки и демонстрации протокола; боевой дашборд — браузерный.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opsdesk/internal/client"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
	"github.com/opsdesk/internal/ws"
)

func main() {
	logger.SetPrefix("dashboard")
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	wsURL := flag.String("ws", "ws://localhost:8080/ws", "WebSocket endpoint")
	sessionID := flag.String("session", os.Getenv("SESSION_ID"), "session id")
	secretB64 := flag.String("secret", os.Getenv("SESSION_SECRET"), "session secret (base64)")
	adminID := flag.String("admin", os.Getenv("ADMIN_ID"), "admin id владельца сессии")
	adminName := flag.String("name", "operator", "display name")
	flag.Parse()

	if *sessionID == "" || *secretB64 == "" {
		fmt.Fprintln(os.Stderr, "usage: dashboard -session <id> -secret <base64> [-api URL] [-ws URL]")
		fmt.Fprintln(os.Stderr, "получите сессию: POST /api/auth/login с X-Admin-Key")
		os.Exit(2)
	}
	secret, err := base64.StdEncoding.DecodeString(*secretB64)
	if err != nil {
		logger.Errorf("secret is not valid base64: %v", err)
		os.Exit(2)
	}

	signer := &client.Signer{SessionID: *sessionID, Secret: secret}
	rest := client.NewRESTClient(*apiURL, signer)

	m := client.NewManager(*wsURL, client.WithURLProvider(func() string {
		return signer.SignedWSURL(*wsURL, ws.NamespaceAdmin)
	}))
	rooms := client.NewRoomIntentSet(m)
	ledger := client.NewLedger(m, *adminID, *adminName,
		client.WithRESTFallback(rest),
		client.WithComposerRestore(func(chatID, body string) {
			fmt.Printf("\n[%s] не доставлено, текст возвращён: %q\n> ", chatID, body)
		}),
	)
	agg := client.NewAggregator(rest,
		client.WithAlertHandler(func(a model.AlertEntry) {
			fmt.Printf("\n!!! CRITICAL: %s — %s\n> ", a.Title, a.Body)
		}),
	)
	client.Bind(m, rooms, ledger, agg)

	m.OnStatus(func(s client.Status) {
		fmt.Printf("\n[conn] %s\n> ", s)
	})
	m.OnEvent(ws.EventChatNewMessage, func(raw json.RawMessage) {
		var p ws.NewMessagePayload
		if json.Unmarshal(raw, &p) != nil || p.Message == nil {
			return
		}
		if *adminID != "" && p.Message.SenderID == *adminID {
			return // своё сообщение уже показал ledger
		}
		fmt.Printf("\n[%s] %s: %s\n> ", p.ChatSupportID, p.Message.SenderName, p.Message.Body)
	})
	m.OnConnect(func() {
		go func() {
			if err := agg.RefreshTickets(context.Background()); err != nil {
				logger.Errorf("refresh tickets: %v", err)
			}
		}()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Open(ctx); err != nil {
		logger.Errorf("open: %v", err)
		os.Exit(1)
	}
	defer m.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
		m.Close()
		os.Exit(0)
	}()

	fmt.Println("команды: /join <chat>  /leave <chat>  /open <chat>  /chats  /activity  /quit")
	fmt.Println("обычный текст отправляется в последнюю открытую комнату")
	var current string
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/join "):
			current = strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			rooms.Join(current)
			fmt.Printf("joined %s\n", current)
		case strings.HasPrefix(line, "/leave "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/leave "))
			rooms.Leave(id)
			if id == current {
				current = ""
			}
			fmt.Printf("left %s\n", id)
		case strings.HasPrefix(line, "/open "):
			current = strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			rooms.Join(current)
			openChat(ctx, rest, ledger, current)
		case line == "/chats":
			printChats(agg)
		case line == "/activity":
			for _, e := range agg.Activity() {
				fmt.Printf("  %s %s %s %s\n", e.CreatedAt.Format("15:04:05"), e.ActorName, e.Action, e.Target)
			}
		default:
			if current == "" {
				fmt.Println("сначала /open <chat>")
				break
			}
			if _, err := ledger.Send(ctx, current, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

func openChat(ctx context.Context, rest *client.RESTClient, ledger *client.Ledger, chatID string) {
	msgs, err := rest.GetMessages(ctx, chatID)
	if err != nil {
		fmt.Printf("load transcript: %v\n", err)
		return
	}
	ledger.Seed(chatID, msgs)
	for _, m := range ledger.Messages(chatID) {
		fmt.Printf("  %s %s: %s\n", m.CreatedAt.Format("15:04:05"), m.SenderName, m.Body)
	}
	if err := rest.MarkRead(ctx, chatID); err != nil {
		logger.Errorf("mark read %s: %v", chatID, err)
	}
}

func printChats(agg *client.Aggregator) {
	tickets := agg.Tickets()
	if agg.TicketsStale() {
		fmt.Println("  (список устарел, обновляется при следующем reconnect)")
	}
	for _, t := range tickets {
		last := ""
		if t.LastMessage != nil {
			last = t.LastMessage.Body
			if len(last) > 40 {
				last = last[:37] + "..."
			}
		}
		fmt.Printf("  [%d] %-8s %-20s %s\n", t.UnreadCount, t.Chat.Status, t.Chat.UserName, last)
	}
}
