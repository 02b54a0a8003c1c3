// Package main 是应用程序的入口点。
package main

import (
	"fmt"
	"os"

	"byggassistent/internal/config"
	"byggassistent/pkg/log"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "byggassistent",
		Short:         "Spørsmål og svar om norske byggeforskrifter (TEK17, PBL m.fl.)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			config.Conf = cfg
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "配置文件路径")
	root.AddCommand(newServeCommand(), newAskCommand())

	err := root.Execute()
	log.Sync()
	if err != nil {
		log.Error("命令执行失败", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
