package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "meetctl",
		Short:   "meetctl - 会议服务命令行工具",
		Long:    "通过命令行直接调用会议服务 HTTP API：排期、入会控制、等候室管理与聊天。",
		Version: version,
	}

	// 添加全局标志
	addGlobalFlags(rootCmd)

	// 注册所有分组子命令
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newMeetingCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newLobbyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
