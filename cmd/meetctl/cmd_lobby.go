package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scholarbase/meetsvc/pkg/devices"
)

func newLobbyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "入会前设备预检 (探测、预览降级检查)",
	}
	cmd.AddCommand(newLobbyProbeCmd())
	cmd.AddCommand(newLobbyCheckCmd())
	return cmd
}

func newLobbyProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "列出本机可用的采集设备",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)

			session, err := devices.NewSession(devices.NewStaticBackend(devices.DefaultInventory()), slog.Default())
			if err != nil {
				return err
			}
			defer session.Close()

			inv, err := session.Probe(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.Marshal(inv)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, data)
		},
	}
}

// newLobbyCheckCmd 走一遍完整的大厅预检流程并输出 join 将携带的媒体开关，
// 用于验证设备缺失/静音时的降级行为
func newLobbyCheckCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "check",
		Short: "运行设备预检并输出入会媒体开关",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			ctx := context.Background()

			session, err := devices.NewSession(devices.NewStaticBackend(devices.DefaultInventory()), slog.Default())
			if err != nil {
				return err
			}
			defer session.Close()

			sel := devices.Selection{
				CameraID:     mustGetString(cmd, "camera"),
				MicrophoneID: mustGetString(cmd, "microphone"),
				SpeakerID:    mustGetString(cmd, "speaker"),
			}
			if err := session.Preview(ctx, sel); err != nil {
				return err
			}

			if muted, _ := cmd.Flags().GetBool("muted"); muted {
				if err := session.ApplyToggle(ctx, devices.KindMicrophone, false); err != nil {
					return err
				}
			}
			if noVideo, _ := cmd.Flags().GetBool("no-video"); noVideo {
				if err := session.ApplyToggle(ctx, devices.KindCamera, false); err != nil {
					return err
				}
			}

			audioOn, videoOn := session.JoinMedia()
			data, err := json.Marshal(map[string]bool{"audio_on": audioOn, "video_on": videoOn})
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, data)
		},
	}
	c.Flags().String("camera", "", "摄像头设备ID（空为默认）")
	c.Flags().String("microphone", "", "麦克风设备ID（空为默认）")
	c.Flags().String("speaker", "", "扬声器设备ID（空为默认）")
	c.Flags().Bool("muted", false, "预检后关闭麦克风")
	c.Flags().Bool("no-video", false, "预检后关闭摄像头")
	return c
}
