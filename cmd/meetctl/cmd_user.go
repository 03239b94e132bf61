package main

import (
	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "认证 (登录、改密)",
	}
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newPasswdCmd())
	return cmd
}

func newLoginCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "login",
		Short: "登录并输出令牌（写入 MEETCTL_TOKEN 或 ~/.meetctl/config.yaml）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{
				"username": mustGetString(cmd, "username"),
				"password": mustGetString(cmd, "password"),
			}
			resp, err := client.Request("POST", "/api/v1/auth/login", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().StringP("username", "u", "", "用户名（必选）")
	c.Flags().StringP("password", "P", "", "密码（必选）")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newPasswdCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "passwd",
		Short: "修改当前用户密码",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{
				"old_password": mustGetString(cmd, "old"),
				"new_password": mustGetString(cmd, "new"),
			}
			resp, err := client.Request("POST", "/api/v1/auth/password", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("old", "", "旧密码（必选）")
	c.Flags().String("new", "", "新密码（必选）")
	_ = c.MarkFlagRequired("old")
	_ = c.MarkFlagRequired("new")
	return c
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "用户管理 (需要 user.manage 权限)",
	}
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserGetCmd())
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserUpdateCmd())
	cmd.AddCommand(newUserDeleteCmd())
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出所有用户",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/users")
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newUserGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <username>",
		Short: "查看用户详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/users/" + args[0])
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newUserCreateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: "创建用户",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{
				"username": mustGetString(cmd, "username"),
				"password": mustGetString(cmd, "password"),
			}
			addOptionalString(cmd, body, "display-name", "display_name")
			addOptionalString(cmd, body, "foundation-id", "foundation_id")
			if scopes, _ := cmd.Flags().GetStringSlice("scope"); len(scopes) > 0 {
				body["scopes"] = scopes
			}

			resp, err := client.Request("POST", "/api/v1/users", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().StringP("username", "u", "", "用户名（必选）")
	c.Flags().StringP("password", "P", "", "初始密码（必选）")
	c.Flags().String("display-name", "", "显示名称")
	c.Flags().String("foundation-id", "", "所属组织")
	c.Flags().StringSlice("scope", nil, "权限范围，可重复: meeting.read/meeting.write/user.manage")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newUserUpdateCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "update <username>",
		Short: "更新用户显示名称和权限",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{}
			addOptionalString(cmd, body, "display-name", "display_name")
			if scopes, _ := cmd.Flags().GetStringSlice("scope"); len(scopes) > 0 {
				body["scopes"] = scopes
			}

			resp, err := client.Request("PUT", "/api/v1/users/"+args[0], body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	c.Flags().String("display-name", "", "显示名称")
	c.Flags().StringSlice("scope", nil, "权限范围，可重复")
	return c
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "删除用户",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Request("DELETE", "/api/v1/users/"+args[0], nil)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}
