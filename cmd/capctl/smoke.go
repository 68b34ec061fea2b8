package main

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"capledger.org/internal/app"
	"capledger.org/internal/ids"
	"capledger.org/internal/ledger"
)

func newSmokeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run an allocate, pay and transfer cycle against the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runSmoke(ctx, a.Ledger, cmd.OutOrStdout())
			})
		},
	}
}

// runSmoke checks that a transfer conserves the company's issued share total and
// moves the holding to the new holder.
func runSmoke(ctx context.Context, l ledger.Ledger, out io.Writer) error {
	suffix := ids.New()

	company, err := l.RegisterCompany(ctx, "Smoke Test Ltd "+suffix, "")
	if err != nil {
		return fmt.Errorf("register company: %w", err)
	}
	alice, err := l.RegisterShareholder(ctx, ledger.ShareholderRequest{CompanyID: company.ID, FullName: "Smoke Holder A"})
	if err != nil {
		return fmt.Errorf("register holder A: %w", err)
	}
	bob, err := l.RegisterShareholder(ctx, ledger.ShareholderRequest{CompanyID: company.ID, FullName: "Smoke Holder B"})
	if err != nil {
		return fmt.Errorf("register holder B: %w", err)
	}

	alloc, err := l.AllocateShares(ctx, ledger.AllocateRequest{
		CompanyID:         company.ID,
		ShareholderID:     alice.ID,
		ShareClass:        ledger.DefaultClassCode,
		NumberOfShares:    1_000,
		NominalValue:      decimal.NewFromInt(1),
		AmountPaid:        decimal.NewFromInt(400),
		CertificateNumber: "SMOKE-" + suffix + "-1",
	})
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	if alloc, err = l.UpdatePayment(ctx, alloc.ID, decimal.NewFromInt(600)); err != nil {
		return fmt.Errorf("payment: %w", err)
	}
	if !alloc.IsFullyPaid {
		return fmt.Errorf("allocation %s not fully paid after payment", alloc.ID)
	}

	before, err := l.GetCompanyShareStatistics(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	successor, err := l.TransferShares(ctx, ledger.TransferRequest{
		AllocationID:      alloc.ID,
		ToShareholderID:   bob.ID,
		CertificateNumber: "SMOKE-" + suffix + "-2",
	})
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	after, err := l.GetCompanyShareStatistics(ctx, company.ID)
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}

	if before.TotalShares != after.TotalShares {
		return fmt.Errorf("share conservation failed: %d before, %d after", before.TotalShares, after.TotalShares)
	}
	if successor.ShareholderID != bob.ID || successor.NumberOfShares != alloc.NumberOfShares {
		return fmt.Errorf("unexpected successor %+v", successor)
	}
	held, err := l.GetActiveAllocationsByShareholder(ctx, alice.ID)
	if err != nil {
		return fmt.Errorf("holder A allocations: %w", err)
	}
	if len(held) != 0 {
		return fmt.Errorf("holder A still has %d active allocations", len(held))
	}

	_, err = fmt.Fprintf(out, "smoke test passed: company=%s allocation=%s successor=%s shares=%d\n",
		company.ID, alloc.ID, successor.ID, after.TotalShares)
	return err
}
