// Interflow CLI — локальное выполнение графов и управление runs
// на сервере через HTTP API.
//
// Использование:
//
//	interflow [--config FILE] [--api-url URL] [--json] <command> [flags]
//
// Локальные команды:
//
//	run        Выполнить граф в этом процессе
//	validate   Проверить документ графа
//	watch      Выполнить граф с интерактивным экраном
//	schedules  Показать расписания из конфигурации
//
// Команды сервера:
//
//	runs       Список, запуск, просмотр и управление runs
//	services   Доступные сервисы
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/shaiso/Interflow/internal/app"
	"github.com/shaiso/Interflow/internal/cli"
	"github.com/shaiso/Interflow/internal/config"
	"github.com/shaiso/Interflow/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var configPath string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "interflow",
		Short:         "Interflow — dataflow workflow engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $INTERFLOW_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	// stdout занят результатом, логи идут в stderr.
	runtimeFn := func() (*cli.Runtime, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		a, err := app.New(context.Background(), app.Options{
			Config:     cfg,
			Logger:     telemetry.NewLogger(os.Stderr),
			Registerer: prometheus.NewRegistry(),
			Name:       "interflow-cli",
		})
		if err != nil {
			return nil, err
		}
		return &cli.Runtime{Config: cfg, Interpreter: a.Interpreter(), Close: a.Close}, nil
	}

	rootCmd.AddCommand(cli.NewLocalCmds(runtimeFn, outputFn)...)
	rootCmd.AddCommand(
		cli.NewRunsCmd(clientFn, outputFn),
		cli.NewServicesCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
