// Package cli implements the hcertctl command tree.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"hcert/internal/certificate/service"
	"hcert/internal/platform/logger"
	"hcert/internal/trustkeys/importer"
	keyservice "hcert/internal/trustkeys/service"
	"hcert/internal/trustkeys/store"
)

const maxLineBytes = 1 << 20

// ErrNotValid is returned by verify when at least one certificate is not VALID. main
// maps it to exit status 1 without printing it again.
var ErrNotValid = errors.New("certificate not valid")

type options struct {
	verbose bool
	output  string
}

// NewRootCommand builds the hcertctl command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hcertctl",
		Short:         "Decode and verify EU Digital COVID Certificates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case outputText, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("invalid output %q (must be text, json or yaml)", opts.output)
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline diagnostics to stderr")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "output format: text, json or yaml")

	root.AddCommand(
		newDecodeCommand(opts),
		newVerifyCommand(opts),
		newKeysCommand(opts),
		newTokenCommand(),
		newVersionCommand(version),
	)
	return root
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	if o.verbose {
		return logger.NewWithWriter(cmd.ErrOrStderr(), true)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// readInputs returns the QR text given as the argument, or one QR per non-blank line of
// stdin when the argument is "-" or absent.
func readInputs(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) == 1 && args[0] != "-" {
		return []string{args[0]}, nil
	}
	return readLines(cmd.InOrStdin())
}

func readLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var out []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("no certificate given")
	}
	return out, nil
}

// keyFlags are shared by the commands that need a trust list.
type keyFlags struct {
	path   string
	format string
}

func (k *keyFlags) register(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVarP(&k.path, "keys", "k", "", "trust list file")
	cmd.Flags().StringVarP(&k.format, "format", "f", string(importer.FormatUK), "trust list format: uk or nl")
	if required {
		_ = cmd.MarkFlagRequired("keys")
	}
}

// openKeys loads the trust list into an in-memory key service. An empty path yields an
// empty key set.
func (k *keyFlags) openKeys(ctx context.Context, log *slog.Logger) (*keyservice.Service, error) {
	keys, err := keyservice.New(store.NewInMemoryStore(), keyservice.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if k.path == "" {
		return keys, nil
	}
	format, err := importer.ParseFormat(k.format)
	if err != nil {
		return nil, err
	}
	list, err := importer.LoadFile(k.path, format)
	if err != nil {
		return nil, err
	}
	for _, sk := range list.Skipped {
		log.Debug("trust list key skipped", "kid", sk.KeyID, "reason", sk.Reason)
	}
	if _, err := keys.Import(ctx, string(format), list.Keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func newCertificateService(keys service.KeyResolver, log *slog.Logger) (*service.Service, error) {
	return service.New(keys, service.WithLogger(log))
}
