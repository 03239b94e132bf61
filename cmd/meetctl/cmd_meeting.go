package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newMeetingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "meeting",
		Aliases: []string{"mtg"},
		Short:   "会议排期管理 (创建、列表、改期、取消)",
	}
	cmd.AddCommand(newMeetingCreateCmd())
	cmd.AddCommand(newMeetingListCmd())
	cmd.AddCommand(newMeetingGetCmd())
	cmd.AddCommand(newMeetingRescheduleCmd())
	cmd.AddCommand(newMeetingCancelCmd())
	return cmd
}

func newMeetingCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: "创建会议",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{
				"title": mustGetString(cmd, "title"),
			}
			addOptionalString(cmd, body, "description")
			addOptionalString(cmd, body, "type")
			addOptionalString(cmd, body, "start-at", "start_at")
			addOptionalString(cmd, body, "end-at", "end_at")
			addOptionalString(cmd, body, "location-type", "location_type")
			addOptionalString(cmd, body, "location")
			addOptionalBool(cmd, body, "all-day", "all_day")
			addOptionalInt(cmd, body, "capacity")

			access := map[string]interface{}{}
			addOptionalBool(cmd, access, "allow-uninvited", "allow_uninvited_join")
			addOptionalString(cmd, access, "lobby-bypass", "lobby_bypass_type")
			addOptionalString(cmd, access, "presenters", "allowed_presenters")
			if invited, _ := cmd.Flags().GetStringSlice("invite"); len(invited) > 0 {
				access["invited_participant_ids"] = invited
			}
			if len(access) > 0 {
				body["access"] = access
			}

			resp, err := client.Request("POST", "/api/v1/meetings", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("title", "", "会议标题（必选）")
	c.Flags().String("description", "", "会议描述")
	c.Flags().String("type", "", "会议类型: instant / scheduled")
	c.Flags().String("start-at", "", "开始时间 (RFC3339)")
	c.Flags().String("end-at", "", "结束时间 (RFC3339)")
	c.Flags().Bool("all-day", false, "全天会议")
	c.Flags().String("location-type", "", "地点类型: online / in_person / hybrid")
	c.Flags().String("location", "", "线下地点（in_person/hybrid 必选）")
	c.Flags().Int("capacity", 0, "人数上限")
	c.Flags().StringSlice("invite", nil, "受邀用户ID，可重复")
	c.Flags().Bool("allow-uninvited", false, "允许未受邀用户加入")
	c.Flags().String("lobby-bypass", "", "等候室跳过策略: everyone/invited/organization/nobody")
	c.Flags().String("presenters", "", "演示权限: everyone/organization/specific/host_only")
	_ = c.MarkFlagRequired("title")
	return c
}

func newMeetingListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "list",
		Short: "列出会议，可按状态过滤",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			path := "/api/v1/meetings"
			if status := mustGetString(cmd, "status"); status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			resp, err := client.Get(path)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("status", "", "状态过滤: scheduled/lobby_open/live/ended/cancelled")
	return c
}

func newMeetingGetCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "get <meeting-id>",
		Short: "查看会议详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/meetings/" + args[0])
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	return c
}

func newMeetingRescheduleCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "reschedule <meeting-id>",
		Short: "改期（仅组织者，会议开始前）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{}
			addOptionalString(cmd, body, "title")
			addOptionalString(cmd, body, "description")
			addOptionalString(cmd, body, "start-at", "start_at")
			addOptionalString(cmd, body, "end-at", "end_at")
			if len(body) == 0 {
				return fmt.Errorf("nothing to change: pass at least one of --title/--description/--start-at/--end-at")
			}

			resp, err := client.Request("PUT", "/api/v1/meetings/"+args[0], body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("title", "", "新标题")
	c.Flags().String("description", "", "新描述")
	c.Flags().String("start-at", "", "新开始时间 (RFC3339)")
	c.Flags().String("end-at", "", "新结束时间 (RFC3339)")
	return c
}

func newMeetingCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <meeting-id>",
		Short: "取消会议（终态，记录保留）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Request("DELETE", "/api/v1/meetings/"+args[0], nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}
