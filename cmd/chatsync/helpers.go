package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chatsync/chatsync"
)

// getClient creates an HTTP client authenticated with the configured token.
func getClient() (*chatsync.Client, *Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Token == "" {
		return nil, nil, fmt.Errorf("no token: run 'chatsync config set auth.token <token>' or set CHATSYNC_TOKEN")
	}

	opts := []chatsync.ClientOption{chatsync.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatsync.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatsync.NewClient(cfg.Auth.Token, opts...), cfg, nil
}

// requireUserID returns the configured user id or an error explaining how to set it.
func requireUserID(cfg *Config) (string, error) {
	if cfg.Auth.UserID == "" {
		return "", fmt.Errorf("no user id: run 'chatsync config set auth.user_id <id>' or set CHATSYNC_USER_ID")
	}
	return cfg.Auth.UserID, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func senderName(m *chatsync.Message) string {
	if m.Sender != nil {
		return m.Sender.Name()
	}
	return m.SenderID
}

func formatMessage(m *chatsync.Message) string {
	flags := ""
	if m.Edited {
		flags += " (edited)"
	}
	if m.Pinned {
		flags += " [pinned]"
	}
	if m.Status == chatsync.StatusFailed {
		flags += " [failed: " + m.Error + "]"
	}
	return fmt.Sprintf("[%s] %s: %s%s", m.CreatedAt.Local().Format(time.Kitchen), senderName(m), m.Preview(), flags)
}

func conversationTitle(c *chatsync.Conversation) string {
	if c.Title != "" {
		return c.Title
	}
	if c.Entity != nil {
		return c.Entity.Type + ":" + c.Entity.ID
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.User != nil {
			names = append(names, p.User.Name())
		} else {
			names = append(names, p.UserID)
		}
	}
	return strings.Join(names, ", ")
}
