package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/kubev2v/vdc-migrator/internal/store"
	"github.com/kubev2v/vdc-migrator/internal/store/model"
)

// HistoryOptions reads the journal back: every outcome of one run, or the latest
// outcome of one VM across runs.
type HistoryOptions struct {
	GlobalOptions

	VMName string
	Output string

	runID uuid.UUID
}

func DefaultHistoryOptions() *HistoryOptions {
	return &HistoryOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdHistory() *cobra.Command {
	o := DefaultHistoryOptions()
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show journaled outcomes of a run or the last outcome of a VM.",
		Example: "vdc-migrator history -c config.yaml 4b9f2c1e-6a53-4d8e-9a0e-2d1f0c7b8e11\n" +
			"vdc-migrator history --vm web01 -o yaml",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *HistoryOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	fs.StringVar(&o.VMName, "vm", o.VMName, "Show the last journaled outcome of this VM")
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *HistoryOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		o.runID = id
	}
	return nil
}

func (o *HistoryOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if (len(args) == 1) == (o.VMName != "") {
		return fmt.Errorf("specify either a run id or --vm")
	}
	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

func (o *HistoryOptions) Run(ctx context.Context, out io.Writer) error {
	cfg, err := o.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateJournal(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	flush := InitLogging(cfg.LogLevel)
	defer flush()

	db, err := store.InitDB(cfg.Journal)
	if err != nil {
		return fmt.Errorf("initializing journal: %w", err)
	}
	s := store.NewStore(db)
	defer s.Close()
	if err := s.Journal().InitialMigration(); err != nil {
		return fmt.Errorf("running journal migration: %w", err)
	}

	var outcomes model.OutcomeList
	if o.VMName != "" {
		last, err := s.Journal().Last(ctx, o.VMName)
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("no journal entry for vm %q", o.VMName)
		}
		if err != nil {
			return err
		}
		outcomes = model.OutcomeList{*last}
	} else {
		outcomes, err = s.Journal().List(ctx, o.runID)
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			return fmt.Errorf("no journal entries for run %s", o.runID)
		}
	}

	return PrintHistory(out, outcomes, o.Output)
}

func PrintHistory(out io.Writer, outcomes model.OutcomeList, output string) error {
	switch output {
	case jsonFormat:
		data, err := json.Marshal(outcomes)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case yamlFormat:
		data, err := yaml.Marshal(outcomes)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "RUN\tVM\tSTATUS\tSTAGE\tFINISHED\tREASON")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.RunID.String()[:8], o.VMName, o.Status, o.Stage, o.FinishedAt.UTC().Format("2006-01-02 15:04:05"), o.Reason)
	}
	return w.Flush()
}
