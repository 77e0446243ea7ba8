package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatty/internal/auth"
	"chatty/internal/bus"
	"chatty/internal/config"
	"chatty/internal/domain"
	"chatty/internal/events"
	"chatty/internal/logging"
	"chatty/internal/notify"
	"chatty/internal/persistence"
	"chatty/internal/restapi"
	"chatty/internal/session"
	"chatty/internal/transport"
)

const identityLookupTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("run chatty", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: user config dir)")
	serverURL := flag.String("server", "", "REST API base url override")
	wsURL := flag.String("ws", "", "websocket url override")
	token := flag.String("token", "", "bearer token override")
	roomID := flag.String("room", "", "room to focus after connecting")
	listenFor := flag.Duration("listen-for", 0, "exit after this duration instead of reading stdin")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if strings.TrimSpace(*configPath) != "" {
		paths.ConfigFile = strings.TrimSpace(*configPath)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*serverURL) != "" {
		cfg.Server.BaseURL = strings.TrimSpace(*serverURL)
	}
	if strings.TrimSpace(*wsURL) != "" {
		cfg.Server.WSURL = strings.TrimSpace(*wsURL)
	}
	if strings.TrimSpace(*token) != "" {
		cfg.Server.Token = strings.TrimSpace(*token)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging.Level, cfg.Logging.LogToFile, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting chatty", "server", cfg.Server.BaseURL)

	self, err := auth.ParseIdentity(cfg.Server.Token)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	api := restapi.NewClient(cfg.Server.BaseURL, cfg.Server.Token, logMgr.Logger("restapi"))
	if err := resolveIdentity(ctx, api, &self); err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	logger.Info("authenticated", "username", self.Username, "user_id", self.UserID)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()

	convRepo := persistence.NewConversationRepo(db)
	msgRepo := persistence.NewMessageRepo(db)
	cached, err := msgRepo.CountByConversation(ctx)
	if err != nil {
		return fmt.Errorf("load archive stats: %w", err)
	}
	logger.Info("local archive", "conversations", len(cached))

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 256)
	writer.Start(ctx)
	archiver := persistence.NewArchiver(logMgr.Logger("archive"), b, writer, convRepo, msgRepo)
	archiver.Start(ctx)

	tr := transport.NewWebSocketTransport(cfg.Server.WSURL)
	conn := session.NewConn(logMgr.Logger("session"), b, tr, cfg.ReconnectDelay())
	rec := session.NewReconciler(logMgr.Logger("reconciler"), b, conn, api, self, cfg.Chat.HistoryPageSize)
	rec.Start(ctx)

	notifier := notify.NewService(
		logMgr.Logger("notify"), b, notify.NewBeeepSender(logMgr.Logger("notify")),
		self, func() bool { return cfg.Chat.Notifications },
	)
	notifier.Start(ctx)

	watch(ctx, b, logger)

	if err := conn.Connect(ctx, cfg.Server.Token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Disconnect()

	if strings.TrimSpace(*roomID) != "" {
		if err := rec.SelectRoom(ctx, domain.Room{ID: strings.TrimSpace(*roomID)}); err != nil {
			logger.Warn("focus initial room failed", "room", *roomID, "error", err)
		}
	}

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}
		return nil
	}

	return readCommands(ctx, logger, rec)
}

// resolveIdentity fills in the user id and display name the token's subject
// maps to; the token itself only carries the username.
func resolveIdentity(ctx context.Context, api *restapi.Client, self *auth.Identity) error {
	lookupCtx, cancel := context.WithTimeout(ctx, identityLookupTimeout)
	defer cancel()

	users, err := api.AllUsers(lookupCtx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.Username == self.Username {
			self.UserID = u.ID
			self.DisplayName = u.DisplayName

			return nil
		}
	}

	return fmt.Errorf("token subject %q not found on server", self.Username)
}

// watch mirrors session events into the log so a terminal session doubles as
// a chat view.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	msgSub := b.Subscribe(events.TopicMessage)
	bufSub := b.Subscribe(events.TopicRoomBuffered)
	histSub := b.Subscribe(events.TopicHistory)
	unreadSub := b.Subscribe(events.TopicUnread)
	presenceSub := b.Subscribe(events.TopicPresence)
	connSub := b.Subscribe(events.TopicConnStatus)

	go func() {
		defer b.Unsubscribe(msgSub, events.TopicMessage)
		defer b.Unsubscribe(bufSub, events.TopicRoomBuffered)
		defer b.Unsubscribe(histSub, events.TopicHistory)
		defer b.Unsubscribe(unreadSub, events.TopicUnread)
		defer b.Unsubscribe(presenceSub, events.TopicPresence)
		defer b.Unsubscribe(connSub, events.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.MessageAppended); ok {
					logger.Info("message",
						"conversation", ev.ConversationKey,
						"from", ev.Message.DisplaySender(),
						"text", ev.Message.Content)
				}
			case raw, ok := <-bufSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.RoomBuffered); ok {
					logger.Info("buffered", "room", ev.RoomID, "from", ev.Message.DisplaySender(), "pending", ev.Size)
				}
			case raw, ok := <-histSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.HistoryLoaded); ok {
					logger.Info("history loaded", "conversation", ev.ConversationKey, "messages", ev.Count)
				}
			case raw, ok := <-unreadSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.UnreadChanged); ok {
					logger.Info("unread", "count", ev.Count, "from", ev.From)
				}
			case raw, ok := <-presenceSub:
				if !ok {
					return
				}
				if ev, ok := raw.(events.PresenceChanged); ok {
					logger.Info("presence", "kind", ev.Kind, "user", ev.Username)
				}
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				if status, ok := raw.(events.ConnectionStatus); ok {
					logger.Info("connection", "state", status.State, "error", status.Err)
				}
			}
		}
	}()
}

// readCommands drives the reconciler from stdin: slash commands switch focus
// and manage rooms, anything else goes to the focused conversation.
func readCommands(ctx context.Context, logger *slog.Logger, rec *session.Reconciler) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /rooms /users /room <id> /dm <user id> /create <name> /join <id> /joincode <code> /leave /unread /quit")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := rec.SendMessage(line); err != nil {
				logger.Warn("send failed", "error", err)
			}
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit":
			return nil
		case "/rooms":
			if err := rec.RefreshRooms(ctx); err != nil {
				logger.Warn("refresh rooms failed", "error", err)
				continue
			}
			for _, room := range rec.Rooms() {
				fmt.Printf("  %s  %s (%d members)\n", room.ID, room.Name, room.MemberCount)
			}
		case "/users":
			if err := rec.RefreshUsers(ctx); err != nil {
				logger.Warn("refresh users failed", "error", err)
				continue
			}
			for _, u := range rec.Users() {
				marker := " "
				if u.Online {
					marker = "*"
				}
				fmt.Printf("  %s %s  %s\n", marker, u.ID, u.Username)
			}
		case "/room":
			if err := rec.SelectRoom(ctx, domain.Room{ID: arg}); err != nil {
				logger.Warn("select room failed", "room", arg, "error", err)
			}
		case "/dm":
			if err := rec.SelectPrivateChat(ctx, domain.User{ID: arg}); err != nil {
				logger.Warn("select private chat failed", "peer", arg, "error", err)
			}
		case "/create":
			room, err := rec.CreateRoom(ctx, arg, "", true)
			if err != nil {
				logger.Warn("create room failed", "error", err)
				continue
			}
			fmt.Printf("created %s (%s)\n", room.Name, room.ID)
		case "/join":
			if err := rec.JoinRoom(ctx, arg); err != nil {
				logger.Warn("join failed", "room", arg, "error", err)
			}
		case "/joincode":
			room, err := rec.JoinRoomByCode(ctx, arg)
			if err != nil {
				logger.Warn("join by code failed", "error", err)
				continue
			}
			fmt.Printf("joined %s (%s)\n", room.Name, room.ID)
		case "/leave":
			focus := rec.Focus()
			if focus.Kind != domain.FocusRoom {
				fmt.Println("no room focused")
				continue
			}
			if err := rec.LeaveRoom(ctx, focus.RoomID); err != nil {
				logger.Warn("leave failed", "room", focus.RoomID, "error", err)
			}
		case "/unread":
			if err := rec.RefreshUnread(ctx); err != nil {
				logger.Warn("refresh unread failed", "error", err)
				continue
			}
			fmt.Printf("%d unread\n", rec.Unread())
		default:
			fmt.Println("unknown command:", cmd)
		}
	}

	return scanner.Err()
}
