package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "实时会话控制 (加入、离开、结束、等候室、踢人)",
	}
	cmd.AddCommand(newSessionJoinCmd())
	cmd.AddCommand(newSessionLeaveCmd())
	cmd.AddCommand(newSessionEndCmd())
	cmd.AddCommand(newSessionRosterCmd())
	cmd.AddCommand(newSessionAdmitCmd())
	cmd.AddCommand(newSessionDenyCmd())
	cmd.AddCommand(newSessionKickCmd())
	cmd.AddCommand(newSessionMediaCmd())
	return cmd
}

func newSessionJoinCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "join <meeting-id>",
		Short: "请求入会；waiting 状态下重复调用直到主持人放行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{}
			addOptionalString(cmd, body, "display-name", "display_name")

			resp, err := client.Request("POST", "/api/v1/meetings/"+args[0]+"/join", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("display-name", "", "显示名称覆盖")
	return c
}

func newSessionLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <meeting-id>",
		Short: "离开会议",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Request("POST", "/api/v1/meetings/"+args[0]+"/leave", nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <meeting-id>",
		Short: "结束会议（主持人/联席主持人；幂等）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Request("POST", "/api/v1/meetings/"+args[0]+"/end", nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionRosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "roster <meeting-id>",
		Aliases: []string{"participants"},
		Short:   "查看参会者名单（含等候室）",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/meetings/" + args[0] + "/participants")
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionAdmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admit <meeting-id> <user-id>",
		Short: "放行等候室中的参会者",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			path := fmt.Sprintf("/api/v1/meetings/%s/participants/%s/admit", args[0], args[1])
			resp, err := client.Request("POST", path, nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionDenyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deny <meeting-id> <user-id>",
		Short: "拒绝等候室中的参会者",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			path := fmt.Sprintf("/api/v1/meetings/%s/participants/%s/deny", args[0], args[1])
			resp, err := client.Request("POST", path, nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionKickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kick <meeting-id> <user-id>",
		Short: "移出已连接的参会者",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			path := fmt.Sprintf("/api/v1/meetings/%s/participants/%s/kick", args[0], args[1])
			resp, err := client.Request("POST", path, nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newSessionMediaCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "media <meeting-id>",
		Short: "更新自己的媒体状态（静音、摄像头、举手）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{}
			addOptionalBool(cmd, body, "audio", "audio_on")
			addOptionalBool(cmd, body, "video", "video_on")
			addOptionalBool(cmd, body, "hand", "hand_raised")
			if len(body) == 0 {
				return fmt.Errorf("nothing to change: pass at least one of --audio/--video/--hand")
			}

			resp, err := client.Request("PUT", "/api/v1/meetings/"+args[0]+"/media", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().Bool("audio", false, "麦克风开关")
	c.Flags().Bool("video", false, "摄像头开关")
	c.Flags().Bool("hand", false, "举手状态")
	return c
}
