package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/cipherbid/core"
	"github.com/cloudx-io/cipherbid/enclaveapi"
	"github.com/cloudx-io/cipherbid/validation"
)

// Exit codes: 0 valid, 1 validation failed, 2 bad input or runtime error.
const (
	exitInvalid = 1
	exitInput   = 2
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify co-processor attestations",
	}
	cmd.AddCommand(newVerifyDecryptionCmd(), newVerifyKeysCmd())
	return cmd
}

type attestationFlags struct {
	attestation string
	pcrFile     string
	format      string
}

func (f *attestationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.attestation, "attestation", "", "attestation as gzip base64url (from the API) or standard base64")
	cmd.Flags().StringVar(&f.pcrFile, "pcr-file", "", "YAML or JSON file of known PCR sets")
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("attestation")
	_ = cmd.MarkFlagRequired("pcr-file")
}

// load returns the attestation in base64 form and the known PCR sets.
func (f *attestationFlags) load() (enclaveapi.AttestationCOSEBase64, []validation.PCRSet, error) {
	pcrs, err := validation.LoadPCRsFromFile(f.pcrFile)
	if err != nil {
		return "", nil, err
	}

	raw := strings.TrimSpace(f.attestation)
	if data, err := os.ReadFile(raw); err == nil {
		raw = strings.TrimSpace(string(data))
	}

	// Gzip output always starts with 1f8b, which base64url encodes as "H4sI".
	if strings.HasPrefix(raw, "H4sI") {
		doc, err := enclaveapi.AttestationCOSEGzip(raw).Decompress()
		if err != nil {
			return "", nil, err
		}
		return doc.EncodeBase64(), pcrs, nil
	}
	return enclaveapi.AttestationCOSEBase64(raw), pcrs, nil
}

func newVerifyDecryptionCmd() *cobra.Command {
	var (
		flags        attestationFlags
		requestID    string
		amountHandle string
		bidderHandle string
		winningBid   string
		winner       string
	)

	cmd := &cobra.Command{
		Use:   "decryption",
		Short: "Verify that a settlement's decryption was attested by a known enclave",
		Example: `  cipherbid verify decryption \
    --attestation H4sIAAAA... --pcr-file pcrs.yaml \
    --request-id 3f0c... --amount-handle 0xab... --bidder-handle 0xcd... \
    --winning-bid 2.50 --winner 0x00000000000000000000000000000000000000b2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			attestation, pcrs, err := flags.load()
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}

			bid, err := decimal.NewFromString(winningBid)
			if err != nil {
				return &exitError{code: exitInput, err: fmt.Errorf("invalid --winning-bid: %w", err)}
			}
			amount, err := core.ScaleAmount(bid)
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}
			if !common.IsHexAddress(winner) {
				return &exitError{code: exitInput, err: fmt.Errorf("invalid --winner %q", winner)}
			}

			expected := validation.DecryptionExpectation{
				RequestID: requestID,
				Max: core.EncryptedMax{
					Amount: common.HexToHash(amountHandle),
					Bidder: common.HexToHash(bidderHandle),
				},
				Amount: amount,
				Winner: common.HexToAddress(winner),
			}
			result, err := validation.ValidateDecryptionAttestation(attestation, expected, pcrs)
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}
			return report(cmd.OutOrStdout(), flags.format, result, result.IsValid(), &result.BaseValidationResult,
				"Request Match", result.RequestMatch,
				"Handles Match", result.HandlesMatch,
				"Result Match", result.ResultMatch)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&requestID, "request-id", "", "decryption request id")
	cmd.Flags().StringVar(&amountHandle, "amount-handle", "", "encrypted highest bid handle")
	cmd.Flags().StringVar(&bidderHandle, "bidder-handle", "", "encrypted highest bidder handle")
	cmd.Flags().StringVar(&winningBid, "winning-bid", "", "winning bid as settled, e.g. 2.50")
	cmd.Flags().StringVar(&winner, "winner", "", "winner address")
	for _, name := range []string{"request-id", "amount-handle", "bidder-handle", "winning-bid", "winner"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newVerifyKeysCmd() *cobra.Command {
	var (
		flags         attestationFlags
		publicKeyFile string
		proofKeyFile  string
	)

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Verify that the co-processor's public keys were attested by a known enclave",
		RunE: func(cmd *cobra.Command, _ []string) error {
			attestation, pcrs, err := flags.load()
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}
			publicKey, err := os.ReadFile(publicKeyFile)
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}
			proofKey, err := os.ReadFile(proofKeyFile)
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}

			result, err := validation.ValidateKeyAttestation(attestation, string(publicKey), string(proofKey), pcrs)
			if err != nil {
				return &exitError{code: exitInput, err: err}
			}
			return report(cmd.OutOrStdout(), flags.format, result, result.IsValid(), &result.BaseValidationResult,
				"Public Key Match", result.PublicKeyMatch,
				"Proof Key Match", result.ProofKeyMatch)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&publicKeyFile, "public-key", "", "PEM file with the sealing public key")
	cmd.Flags().StringVar(&proofKeyFile, "proof-key", "", "PEM file with the proof signing public key")
	_ = cmd.MarkFlagRequired("public-key")
	_ = cmd.MarkFlagRequired("proof-key")
	return cmd
}

// report prints the result and turns a failed validation into exit code 1.
// checks alternates labels and outcomes.
func report(w io.Writer, format string, result any, valid bool, base *validation.BaseValidationResult, checks ...any) error {
	if format == "json" {
		if err := printJSON(w, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "Attestation Validation")
		fmt.Fprintf(w, "  %-20s %v\n", "PCRs Valid:", base.PCRsValid)
		fmt.Fprintf(w, "  %-20s %v\n", "Certificate Valid:", base.CertificateValid)
		fmt.Fprintf(w, "  %-20s %v\n", "Signature Valid:", base.SignatureValid)
		for i := 0; i+1 < len(checks); i += 2 {
			fmt.Fprintf(w, "  %-20s %v\n", fmt.Sprint(checks[i])+":", checks[i+1])
		}
		if len(base.ValidationDetails) > 0 {
			fmt.Fprintln(w, "Details:")
			for _, d := range base.ValidationDetails {
				fmt.Fprintf(w, "  - %s\n", d)
			}
		}
	}

	if !valid {
		return &exitError{code: exitInvalid, err: fmt.Errorf("attestation is not valid")}
	}
	return nil
}
