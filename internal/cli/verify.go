package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/display"
	"hcert/internal/certificate/service"
	"hcert/internal/certificate/validity"
	"hcert/pkg/requestcontext"
)

const verifyExample = `# Verify against the UK trust list
hcertctl verify --keys uk-keys.json 'HC1:6BFOXN...'

# Verify a batch against the NL trust list, pinning the evaluation time
hcertctl verify --keys nl-keys.json --format nl --at 2021-10-01T12:00:00Z - < scans.txt`

type verifyFlags struct {
	keys keyFlags
	at   string
}

type verifyOutput struct {
	Verdict  validity.Verdict `json:"verdict,omitempty"`
	Verified bool             `json:"verified"`
	Status   string           `json:"status,omitempty"`
	KeyID    string           `json:"kid,omitempty"`
	Details  []display.Detail `json:"details,omitempty"`
	Error    string           `json:"error,omitempty"`
	Field    string           `json:"field,omitempty"`
}

func newVerifyCommand(opts *options) *cobra.Command {
	flags := &verifyFlags{}
	cmd := &cobra.Command{
		Use:     "verify [QR|-]",
		Short:   "Verify certificate signatures and validity",
		Long:    "Decodes each certificate, checks its signature against the trust list and evaluates it. Exits with status 1 unless every certificate is VALID.",
		Example: verifyExample,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args, opts, flags)
		},
	}
	flags.keys.register(cmd, false)
	cmd.Flags().StringVar(&flags.at, "at", "", "evaluate validity at this RFC 3339 time instead of now")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string, opts *options, flags *verifyFlags) error {
	inputs, err := readInputs(cmd, args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if flags.at != "" {
		at, err := time.Parse(time.RFC3339, flags.at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		ctx = requestcontext.WithTime(ctx, at)
	}

	log := opts.logger(cmd)
	keys, err := flags.keys.openKeys(ctx, log)
	if err != nil {
		return err
	}
	certs, err := service.New(keys, service.WithLogger(log), service.WithBatchLimits(len(inputs), 0))
	if err != nil {
		return err
	}

	items, err := certs.CheckBatch(ctx, inputs)
	if err != nil {
		return err
	}

	out := make([]verifyOutput, len(items))
	allValid := true
	for i, item := range items {
		if item.Err != nil {
			allValid = false
			out[i] = verifyOutput{Error: string(certerr.KindOf(item.Err)), Field: certerr.FieldOf(item.Err)}
			log.Debug("certificate rejected", "index", i, "error", item.Err)
			continue
		}
		res := item.Result
		if !res.Verdict.IsValid() {
			allValid = false
		}
		out[i] = verifyOutput{
			Verdict:  res.Verdict,
			Verified: res.Verified,
			Status:   res.Status,
			KeyID:    display.KeyIDText(res.Certificate.KeyID()),
			Details:  res.Details,
		}
	}

	w := cmd.OutOrStdout()
	if opts.output == outputText {
		writeVerifyText(w, out)
	} else {
		var v any = out
		if len(out) == 1 {
			v = out[0]
		}
		if err := writeStructured(w, opts.output, v); err != nil {
			return err
		}
	}
	if !allValid {
		return ErrNotValid
	}
	return nil
}

func writeVerifyText(w io.Writer, results []verifyOutput) {
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "[%d]\n", i+1)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "REJECTED: %s", r.Error)
			if r.Field != "" {
				fmt.Fprintf(w, " (%s)", r.Field)
			}
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintf(w, "%s\n", r.Status)
		fmt.Fprintf(w, "Verdict: %s\n", r.Verdict)
		for _, d := range r.Details {
			fmt.Fprintf(w, "%s: %s\n", d.Label, d.Value)
		}
	}
}
