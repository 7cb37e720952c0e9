package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kubev2v/vdc-migrator/internal/batch"
	"github.com/kubev2v/vdc-migrator/internal/config"
	"github.com/kubev2v/vdc-migrator/internal/migration"
	"github.com/kubev2v/vdc-migrator/internal/opa"
	"github.com/kubev2v/vdc-migrator/internal/vsphere"
)

// CheckOptions runs only the preflight checks of a batch. Nothing is moved and the
// tenant side is not contacted.
type CheckOptions struct {
	MigrateOptions
}

func DefaultCheckOptions() *CheckOptions {
	return &CheckOptions{MigrateOptions: *DefaultMigrateOptions()}
}

func NewCmdCheck() *cobra.Command {
	o := DefaultCheckOptions()
	cmd := &cobra.Command{
		Use:   "check BATCH_FILE",
		Short: "Run the preflight checks of a batch without moving anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *CheckOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	fs.StringVar(&o.NetworkMode, "network-mode", o.NetworkMode, "Network mode the checks assume")
	fs.StringVar(&o.PoliciesDir, "policies-dir", o.PoliciesDir, "Directory of .rego policies to evaluate")
}

// LoadConfig only requires the vSphere settings.
func (o *CheckOptions) LoadConfig() (*config.Config, error) {
	cfg, err := o.layerConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidatePreflight(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *CheckOptions) Run(ctx context.Context, args []string) error {
	cfg, err := o.LoadConfig()
	if err != nil {
		return err
	}
	flush := InitLogging(cfg.LogLevel)
	defer flush()

	b, err := batch.ReadFile(args[0])
	if err != nil {
		return err
	}

	compute, err := vsphere.Login(ctx, vsphereConfig(cfg))
	if err != nil {
		return fmt.Errorf("logging in to vsphere: %w", err)
	}
	defer func() {
		if err := compute.Logout(context.Background()); err != nil {
			zap.S().Named("cli").Warnf("vsphere logout: %v", err)
		}
	}()

	var policy migration.PolicyGate
	if cfg.PoliciesDir != "" {
		gate, err := opa.NewGateFromDir(cfg.PoliciesDir)
		if err != nil {
			return err
		}
		policy = gate
	}

	validator := migration.NewValidator(compute, migration.NewResourcePools(cfg.Migration.Clusters),
		migration.NetworkMode(cfg.Migration.NetworkMode), policy)

	results := make([]CheckResult, 0, len(b.Requests)+len(b.Rejected))
	for _, r := range b.Rejected {
		results = append(results, CheckResult{VMName: r.VMName, Reason: r.Err.Error()})
	}
	for _, req := range b.Requests {
		results = append(results, Check(ctx, validator, req))
	}

	printCheckResults(os.Stdout, results)
	for _, r := range results {
		if !r.Ready {
			return fmt.Errorf("batch has request(s) that would be skipped")
		}
	}
	return nil
}

type CheckResult struct {
	VMName  string
	Ready   bool
	Cluster string
	SizeGB  int64
	Reason  string
}

func Check(ctx context.Context, validator *migration.Validator, req migration.Request) CheckResult {
	p, err := validator.Validate(ctx, req)
	if err != nil {
		return CheckResult{VMName: req.VMName, Reason: err.Error()}
	}
	return CheckResult{VMName: req.VMName, Ready: true, Cluster: p.Cluster.Name, SizeGB: p.VM.SizeGB()}
}

func printCheckResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)
	fmt.Fprintln(w, "VM\tREADY\tCLUSTER\tSIZE_GB\tREASON")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%t\t%s\t%d\t%s\n", r.VMName, r.Ready, r.Cluster, r.SizeGB, r.Reason)
	}
	w.Flush()
}
