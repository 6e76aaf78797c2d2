package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/legalqa/internal/session"
)

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask questions and review the answers interactively",
	Long: `Start a conversation. Each answer comes with a self-evaluation and a
(y/n) prompt: y approves it and starts a new thread, n asks for a rewrite.

Examples:
  # interactive
  legalctl chat

  # one question, then continue interactively
  legalctl chat "전월세 계약 갱신 요구권의 행사 기간과 조건은 어떻게 되나요?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		send := func(ctx context.Context, thread, msg string) (*session.Reply, error) {
			return c.Chat(ctx, thread, msg)
		}
		return chatLoop(cmd.Context(), send, strings.Join(args, " "), os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "continue an existing thread")
}

type sendFunc func(ctx context.Context, threadID, message string) (*session.Reply, error)

// chatLoop sends first (when set) and then every line read from in until EOF
// or "/quit".
func chatLoop(ctx context.Context, send sendFunc, first string, in io.Reader, out io.Writer) error {
	thread := chatThread
	step := func(msg string) error {
		reply, err := send(ctx, thread, msg)
		if err != nil {
			return fail(err, "chat")
		}
		thread = reply.ThreadID
		printMarkdown(out, reply.Text)
		return nil
	}
	if strings.TrimSpace(first) != "" {
		if err := step(first); err != nil {
			return err
		}
	}
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/thread":
			fmt.Fprintln(out, thread)
			continue
		}
		if err := step(line); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}
