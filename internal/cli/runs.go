package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunsCmd создаёт группу команд для runs на сервере.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage runs on the API server",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsSubmitCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
		newRunsProvenanceCmd(clientFn, outputFn),
	)
	for _, command := range []string{"pause", "resume", "step", "stop"} {
		cmd.AddCommand(newRunsControlCmd(command, clientFn, outputFn))
	}

	return cmd
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "WORKFLOW", "STATUS", "EXECUTION", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Workflow, r.Status, orDash(r.Execution), r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "Filter by workflow name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results (history only)")
	cmd.Flags().BoolVar(&opts.Store, "history", false, "Read run history from the database")

	return cmd
}

func newRunsSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a graph file for execution on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read graph: %w", err)
			}
			values, err := ParseInputs(inputs)
			if err != nil {
				return err
			}

			run, err := client.CreateRun(CreateRunRequest{Graph: string(doc), Inputs: values})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "WORKFLOW", "STATUS", "CREATED"},
				[][]string{{run.ID, run.Workflow, run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as NAME=VALUE (repeatable)")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and node states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(run)
				return nil
			}

			out.Table(
				[]string{"ID", "WORKFLOW", "STATUS", "EXECUTION", "ERROR"},
				[][]string{{run.ID, run.Workflow, run.Status, orDash(run.Execution), orDash(run.Error)}},
			)

			if len(run.Nodes) > 0 {
				fmt.Fprintln(out.Writer())
				ids := make([]string, 0, len(run.Nodes))
				for id := range run.Nodes {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				rows := make([][]string, len(ids))
				for i, id := range ids {
					rows[i] = []string{id, run.Nodes[id]}
				}
				out.Table([]string{"NODE", "STATE"}, rows)
			}

			if len(run.Outputs) > 0 {
				fmt.Fprintln(out.Writer())
				out.Table([]string{"OUTPUT", "VALUE"}, valueRows(run.Outputs))
			}
			return nil
		},
	}
}

func newRunsProvenanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "provenance ID",
		Short: "Show recorded node inputs and outputs of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			prov, err := client.GetProvenance(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(prov)
				return nil
			}

			rows := make([][]string, len(prov.Records))
			for i, rec := range prov.Records {
				rows[i] = []string{rec.NodeID, rec.Kind, FormatValue(rec.Value), rec.RecordedAt}
			}
			out.Table([]string{"NODE", "KIND", "VALUE", "RECORDED"}, rows)
			fmt.Fprintf(out.Writer(), "\nStatus: %s\n", orDash(prov.Status))
			return nil
		},
	}
}

func newRunsControlCmd(command string, clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   command + " ID",
		Short: strings.ToUpper(command[:1]) + command[1:] + " a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.Command(args[0], command)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(resp)
				return nil
			}
			out.Success(fmt.Sprintf("Run %s: %s (execution %s)", resp.RunID, resp.Command, resp.Execution))
			return nil
		},
	}
}

// NewServicesCmd создаёт команду списка сервисов сервера.
func NewServicesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List services available to SERVICE nodes on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := clientFn().ListServices()
			if err != nil {
				return err
			}

			rows := make([][]string, len(services))
			for i, s := range services {
				rows[i] = []string{s}
			}
			outputFn().Print([]string{"SERVICE"}, rows, services)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
