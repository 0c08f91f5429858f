package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatsync/chatsync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	watchConversation string
	watchMetricsAddr  string
	watchMaxAttempts  int
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchConversation, "conversation", "c", "", "Open this conversation and print its history first")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().IntVar(&watchMaxAttempts, "max-reconnects", 0, "Reconnect attempts before giving up (0 = default, -1 = unlimited)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events until interrupted",
	Long: "Open a session with a realtime connection and print messages, typing and\n" +
		"presence changes as they arrive. The conversation list is resynced after\n" +
		"every reconnect.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		userID, err := requireUserID(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics, err := chatsync.NewMetrics(reg)
		if err != nil {
			return err
		}
		if watchMetricsAddr != "" {
			srv := serveMetrics(watchMetricsAddr, reg)
			defer srv.Close()
		}

		rt := chatsync.NewRealtimeClient(client.BaseURL(), &chatsync.RealtimeConfig{
			Token:                cfg.Auth.Token,
			MaxReconnectAttempts: watchMaxAttempts,
			Logger:               logger,
		})

		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		s, err := chatsync.Open(openCtx, &chatsync.SessionConfig{
			UserID:      userID,
			Remote:      client,
			Transport:   rt,
			Metrics:     metrics,
			Logger:      logger,
			InitialLoad: true,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		coord := s.Coordinator()
		unsubscribe := coord.Subscribe(printEvent)
		defer unsubscribe()

		st := coord.State()
		fmt.Printf("Watching as %s: %d conversations, %d unread, %d online\n",
			userID, len(st.Order), st.TotalUnread, len(st.Online))

		if watchConversation != "" {
			if err := coord.SelectConversation(openCtx, watchConversation); err != nil {
				return err
			}
			if err := coord.Flush(openCtx); err != nil {
				return err
			}
			for _, m := range coord.State().MessagesOf(watchConversation).Messages {
				fmt.Println(formatMessage(&m))
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopping.")
		case <-s.Closed():
		}
		return nil
	},
}

// printEvent prints the actions a person watching the stream cares about.
// It runs on the coordinator goroutine.
func printEvent(prev, next *chatsync.State, a chatsync.Action) {
	switch a := a.(type) {
	case chatsync.MessageReceived:
		conv, ok := next.Conversation(a.Message.ConversationID)
		if !ok {
			fmt.Printf("%s (new conversation)\n", formatMessage(&a.Message))
			return
		}
		fmt.Printf("#%s %s\n", truncate(conversationTitle(&conv), 24), formatMessage(&a.Message))
	case chatsync.MessageEdited:
		fmt.Printf("edited %s: %s\n", a.Message.ID, truncate(a.Message.Content, 60))
	case chatsync.MessageDeleted:
		fmt.Printf("deleted %s\n", a.MessageID)
	case chatsync.TypingStarted:
		name := a.DisplayName
		if name == "" {
			name = a.UserID
		}
		fmt.Printf("%s is typing in %s\n", name, a.ConversationID)
	case chatsync.UserOnline:
		fmt.Printf("%s is online\n", a.UserID)
	case chatsync.UserOffline:
		fmt.Printf("%s is offline\n", a.UserID)
	case chatsync.TransportConnected:
		if a.Reconnected {
			fmt.Println("reconnected, resyncing")
		}
	case chatsync.TransportReconnecting:
		fmt.Printf("connection lost, retry %d in %s\n", a.Attempt, a.Delay.Round(time.Millisecond))
	case chatsync.TransportError:
		if errors.Is(a.Err, chatsync.ErrReconnectExhausted) {
			fmt.Println("giving up on the realtime connection")
		}
	}
	if prev.TotalUnread != next.TotalUnread {
		fmt.Printf("unread: %d\n", next.TotalUnread)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
