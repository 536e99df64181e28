package main

import (
	"sigtrack/internal/app"
	"sigtrack/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the evaluation scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(nil, func(a *app.App) error {
				logger.Infof("✓ 配置加载成功（环境=%s）", a.Config().App.Env)
				return a.Run(cmd.Context())
			})
		},
	}
}
