package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatsync/chatsync"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations
	conversationsLimit  int
	conversationsCursor string
	conversationsUnread bool

	// messages
	messagesLimit  int
	messagesBefore string

	// send
	sendReplyTo string

	// search
	searchConversation string
	searchLimit        int
)

func init() {
	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd, searchCmd, readCmd)

	conversationsCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 30, "Maximum number of conversations")
	conversationsCmd.Flags().StringVar(&conversationsCursor, "cursor", "", "Pagination cursor from a previous page")
	conversationsCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "Only show conversations with unread messages")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 50, "Maximum number of messages")
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "Only messages older than this message id")

	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message id to reply to")

	searchCmd.Flags().StringVarP(&searchConversation, "conversation", "c", "", "Restrict the search to one conversation")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		page, err := client.ListConversations(ctx, &chatsync.PageOptions{Limit: conversationsLimit, Cursor: conversationsCursor})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(page)
		}

		total := 0
		for i := range page.Conversations {
			c := &page.Conversations[i]
			total += c.UnreadCount
			if conversationsUnread && c.UnreadCount == 0 {
				continue
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d)", c.UnreadCount)
			}
			fmt.Printf("%-24s %-7s %s%s\n", c.ID, c.Kind, truncate(conversationTitle(c), 40), unread)
			if c.LastMessage != nil {
				fmt.Printf("%-24s         %s\n", "", truncate(senderName(c.LastMessage)+": "+c.LastMessage.Preview(), 60))
			}
		}
		fmt.Printf("\n%d conversations, %d unread", len(page.Conversations), total)
		if page.HasMore {
			fmt.Printf(", more with --cursor %s", page.NextCursor)
		}
		fmt.Println()
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		page, err := client.ListMessages(ctx, args[0], &chatsync.MessagePageOptions{Limit: messagesLimit, Before: messagesBefore})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(page)
		}
		if len(page.Messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		if page.HasMore {
			fmt.Printf("... older messages with --before %s\n", page.Messages[0].ID)
		}
		for i := range page.Messages {
			fmt.Println(formatMessage(&page.Messages[i]))
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		userID, err := requireUserID(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		s, err := chatsync.Open(ctx, &chatsync.SessionConfig{UserID: userID, Remote: client, Logger: logger})
		if err != nil {
			return err
		}
		defer s.Close()
		coord := s.Coordinator()

		conversationID := args[0]
		conv, err := client.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		coord.Dispatch(chatsync.ConversationUpserted{Conversation: *conv})
		if err := coord.Flush(ctx); err != nil {
			return err
		}

		tempID, err := coord.SendMessage(ctx, conversationID, &chatsync.SendMessageParams{
			Type:      chatsync.ContentText,
			Content:   strings.Join(args[1:], " "),
			ReplyToID: sendReplyTo,
		})
		if err != nil {
			return err
		}
		if err := coord.Flush(ctx); err != nil {
			return err
		}

		msgs := coord.State().MessagesOf(conversationID).Messages
		sent := msgs[len(msgs)-1]
		if jsonOutput {
			return printJSON(sent)
		}
		fmt.Printf("Sent %s (local %s)\n", sent.ID, tempID)
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search messages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		results, err := client.SearchMessages(ctx, &chatsync.SearchParams{
			Query:          strings.Join(args, " "),
			ConversationID: searchConversation,
			Limit:          searchLimit,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if jsonOutput {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i := range results {
			fmt.Printf("%-24s %s\n", results[i].ConversationID, formatMessage(&results[i]))
		}
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		if err := client.MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Marked %s as read\n", args[0])
		return nil
	},
}
