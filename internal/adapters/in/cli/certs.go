package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bnema/flotilla/internal/domain"
)

func newCertsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Inspect and renew the TLS certificates of this host",
		Long: `Certificates are reconciled per host. Two hosts serving the same domain
each renew on their own; there is no cross-host lock.`,
	}
	cmd.AddCommand(newCertsScanCmd(opts))
	cmd.AddCommand(newCertsReconcileCmd(opts))
	return cmd
}

func daysText(days *int) string {
	if days == nil {
		return "missing"
	}
	return strconv.Itoa(*days)
}

func newCertsScanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the domains served by local proxy configs and their expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			svc, err := a.Certificates()
			if err != nil {
				return err
			}
			records, err := svc.ScanLocalDomains(a.Context(cmd.Context()))
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{r.Domain, r.Project, r.Env, r.Service, daysText(r.DaysRemaining)})
			}
			return table(cmd.OutOrStdout(), []string{"DOMAIN", "PROJECT", "ENV", "SERVICE", "DAYS"}, rows)
		},
	}
}

func newCertsReconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Issue missing certificates and renew those close to expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.App()
			if err != nil {
				return err
			}
			outcomes, err := a.ReconcileCertificates(cmd.Context())
			if err != nil {
				return err
			}
			return reportCertificates(cmd, outcomes)
		},
	}
}

func reportCertificates(cmd *cobra.Command, outcomes map[string]domain.CertificateOutcome) error {
	w := cmd.OutOrStdout()
	domains := make([]string, 0, len(outcomes))
	for d := range outcomes {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	failed := 0
	for _, d := range domains {
		o := outcomes[d]
		switch {
		case !o.Success:
			failed++
			printFail(w, "%-40s %-8s failed: %v", d, o.Action, o.Err)
		case o.Action == domain.CertSkipped:
			printInfo(w, "%-40s %-8s %s days left", d, o.Action, daysText(o.DaysRemaining))
		default:
			printOK(w, "%-40s %-8s ok", d, o.Action)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d certificate(s) failed", failed, len(outcomes))
	}
	return nil
}
