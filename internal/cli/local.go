package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Interflow/internal/config"
	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/engine"
	"github.com/shaiso/Interflow/internal/interpreter"
	"github.com/shaiso/Interflow/internal/scheduler"
	"github.com/shaiso/Interflow/internal/tui"
)

// ErrRunFailed — локальный run завершился со статусом FAILED.
var ErrRunFailed = errors.New("run failed")

// Runtime — окружение локального выполнения графов.
type Runtime struct {
	Config *config.Config

	// Interpreter — базовая конфигурация: registry, provenance, метрики.
	Interpreter interpreter.Config

	// Close освобождает ресурсы (provenance, соединения). Может быть nil.
	Close func()
}

// RuntimeFn лениво создаёт Runtime после разбора флагов.
type RuntimeFn func() (*Runtime, error)

// NewLocalCmds создаёт команды, работающие без сервера:
// run, validate, watch, schedules.
func NewLocalCmds(runtimeFn RuntimeFn, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newRunCmd(runtimeFn, outputFn),
		newValidateCmd(outputFn),
		newWatchCmd(runtimeFn, outputFn),
		newSchedulesCmd(runtimeFn, outputFn),
	}
}

func newRunCmd(runtimeFn RuntimeFn, outputFn func() *Output) *cobra.Command {
	var inputs []string
	var crossProduct bool

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a graph file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			g, values, err := loadGraph(args[0], inputs)
			if err != nil {
				return err
			}

			rt, err := runtimeFn()
			if err != nil {
				return err
			}
			if rt.Close != nil {
				defer rt.Close()
			}

			cfg := rt.Interpreter
			if cmd.Flags().Changed("cross-product") {
				cfg.CrossProduct = crossProduct
			}

			interp, err := interpreter.New(g, cfg)
			if err != nil {
				return err
			}

			ctx, stop := contextWithSignals(cmd.Context())
			defer stop()

			res, err := interp.Run(ctx, values)
			if res != nil {
				printResult(out, res)
			}
			if err != nil {
				return err
			}
			return resultError(res)
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as NAME=VALUE (repeatable)")
	cmd.Flags().BoolVar(&crossProduct, "cross-product", false, "ForEach over several lists uses the cross product")

	return cmd
}

func newValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a graph file and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			g, err := engine.LoadGraphFile(args[0])
			if err != nil {
				return err
			}
			order, err := engine.TopologicalOrder(g)
			if err != nil {
				return err
			}

			headers := []string{"#", "NODE", "KIND", "SERVICE", "OPERATION"}
			rows := make([][]string, len(order))
			ids := make([]string, len(order))
			for i, node := range order {
				rows[i] = []string{strconv.Itoa(i + 1), node.ID, string(node.Kind), orDash(node.Service), orDash(node.Operation)}
				ids[i] = node.ID
			}

			out.Success(fmt.Sprintf("Graph %s is valid: %d nodes, %d edges", g.Name, g.Size(), len(g.Edges())))
			out.Print(headers, rows, map[string]any{
				"valid":    true,
				"workflow": g.Name,
				"nodes":    g.Size(),
				"edges":    len(g.Edges()),
				"order":    ids,
			})
			return nil
		},
	}
}

func newWatchCmd(runtimeFn RuntimeFn, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Execute a graph locally in the interactive terminal UI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, values, err := loadGraph(args[0], inputs)
			if err != nil {
				return err
			}

			rt, err := runtimeFn()
			if err != nil {
				return err
			}
			if rt.Close != nil {
				defer rt.Close()
			}

			// Лог интерпретатора не должен рисовать поверх экрана.
			cfg := rt.Interpreter
			cfg.Port = nil
			cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

			ctx, stop := contextWithSignals(cmd.Context())
			defer stop()

			res, err := tui.Run(ctx, g, cfg, values)
			if res != nil {
				printResult(outputFn(), res)
			}
			if err != nil {
				return err
			}
			return resultError(res)
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as NAME=VALUE (repeatable)")

	return cmd
}

func newSchedulesCmd(runtimeFn RuntimeFn, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List configured schedules and their next run time",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFn()
			if err != nil {
				return err
			}
			if rt.Close != nil {
				defer rt.Close()
			}

			schedules := rt.Config.Schedules()
			rows, err := scheduleRows(schedules, time.Now())
			if err != nil {
				return err
			}

			outputFn().Print(
				[]string{"NAME", "WORKFLOW", "TRIGGER", "TIMEZONE", "ENABLED", "NEXT"},
				rows,
				schedules,
			)
			return nil
		},
	}
}

// scheduleRows строит таблицу расписаний с вычисленным следующим запуском.
func scheduleRows(schedules []domain.Schedule, now time.Time) ([][]string, error) {
	rows := make([][]string, len(schedules))
	for i := range schedules {
		s := &schedules[i]

		next := "-"
		if s.Enabled {
			at, err := scheduler.CalculateNextDue(s, now)
			if err != nil {
				return nil, err
			}
			s.NextDueAt = &at
			next = at.Format(time.RFC3339)
		}

		rows[i] = []string{s.Name, s.Workflow, s.Trigger(), s.Timezone, strconv.FormatBool(s.Enabled), next}
	}
	return rows, nil
}

func loadGraph(path string, inputs []string) (*domain.Graph, map[string]any, error) {
	g, err := engine.LoadGraphFile(path)
	if err != nil {
		return nil, nil, err
	}
	values, err := ParseInputs(inputs)
	if err != nil {
		return nil, nil, err
	}
	return g, values, nil
}

// printResult выводит итог локального run.
func printResult(out *Output, res *interpreter.Result) {
	if out.JSONMode() {
		out.JSON(res)
		return
	}

	msg := fmt.Sprintf("Run %s %s in %s", res.RunID, res.Status, res.Duration.Round(time.Millisecond))
	if res.Stopped {
		msg += " (stopped)"
	}
	out.Success(msg)

	if len(res.Outputs) > 0 {
		out.Table([]string{"OUTPUT", "VALUE"}, valueRows(res.Outputs))
	}
}

func resultError(res *interpreter.Result) error {
	if res == nil || res.Status != domain.RunStatusFailed {
		return nil
	}
	if res.Error != "" {
		return fmt.Errorf("%w: %s", ErrRunFailed, res.Error)
	}
	return fmt.Errorf("%w: failed nodes %v", ErrRunFailed, res.Failed)
}

// contextWithSignals — контекст, отменяемый по SIGINT/SIGTERM.
func contextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
