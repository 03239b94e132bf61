package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "会话内聊天 (发送、实时跟随)",
	}
	cmd.AddCommand(newChatSendCmd())
	cmd.AddCommand(newChatWatchCmd())
	cmd.AddCommand(newEventsWatchCmd())
	return cmd
}

func newChatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <meeting-id> <text>",
		Short: "发送一条聊天消息（需已连接入会）",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{"text": strings.Join(args[1:], " ")}
			resp, err := client.Request("POST", "/api/v1/meetings/"+args[0]+"/chat", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newChatWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <meeting-id>",
		Short: "通过 WebSocket 实时跟随聊天，Ctrl-C 退出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			return watchSocket(cfg, "/ws/meetings/"+args[0]+"/chat")
		},
	}
}

func newEventsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <meeting-id>",
		Short: "通过 WebSocket 实时跟随会议事件流，Ctrl-C 退出",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			return watchSocket(cfg, "/ws/meetings/"+args[0]+"/events")
		},
	}
}

// watchSocket 连接服务端 WebSocket 并把每条消息逐行输出
func watchSocket(cfg *Config, path string) error {
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path
	// 浏览器外的 WS 客户端同样走 query 参数携带令牌
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					fmt.Fprintln(os.Stderr, "connection closed by server")
				} else {
					fmt.Fprintf(os.Stderr, "read error: %v\n", err)
				}
				return
			}
			fmt.Println(string(msg))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-sig:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	return nil
}
