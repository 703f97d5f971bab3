package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"hcert/internal/certificate/models"
	keymodels "hcert/internal/trustkeys/models"
	"hcert/internal/trustkeys/service"
	"hcert/internal/trustkeys/store"
)

const decodeExample = `# Decode a certificate given on the command line
hcertctl decode 'HC1:6BFOXN...'

# Decode one certificate per line from a file
hcertctl decode - < scans.txt`

type decodedCertificate struct {
	Certificate *models.Certificate `json:"certificate,omitempty"`
	KeyID       string              `json:"kid,omitempty"`
	Algorithm   string              `json:"alg,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func newDecodeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "decode [QR|-]",
		Short:   "Decode a certificate without checking its signature",
		Example: decodeExample,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readInputs(cmd, args)
			if err != nil {
				return err
			}
			log := opts.logger(cmd)
			keys, err := service.New(store.NewInMemoryStore(), service.WithLogger(log))
			if err != nil {
				return err
			}
			certs, err := newCertificateService(keys, log)
			if err != nil {
				return err
			}

			var failed int
			out := make([]decodedCertificate, 0, len(inputs))
			for _, raw := range inputs {
				cert, err := certs.DecodeAndBuild(cmd.Context(), raw)
				if err != nil {
					failed++
					out = append(out, decodedCertificate{Error: err.Error()})
					continue
				}
				d := decodedCertificate{Certificate: cert, Algorithm: cert.Signed.AlgorithmName()}
				if kid := cert.KeyID(); len(kid) > 0 {
					d.KeyID = keymodels.EncodeKeyID(kid)
				}
				out = append(out, d)
			}

			format := opts.output
			if format == outputText {
				format = outputJSON
			}
			var v any = out
			if len(out) == 1 {
				v = out[0]
			}
			if err := writeStructured(cmd.OutOrStdout(), format, v); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d certificates could not be decoded", failed, len(inputs))
			}
			return nil
		},
	}
}
