package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

var envelopeField string

var envelopeCmd = &cobra.Command{
	Use:   "envelope",
	Short: "Encrypt, decrypt and hash PII values offline",
	Long: `envelope uses the same key derivation as kioskd. The master secret,
salt and iteration count come from crypto.master_secret, crypto.salt and
crypto.iterations (CRYPTO_MASTER_SECRET etc. in the environment).

  kioskctl envelope encrypt --field mobile 9876543210
  kioskctl envelope decrypt --field mobile <ciphertext>
  kioskctl envelope hash 9876543210`,
}

var envelopeEncryptCmd = &cobra.Command{
	Use:   "encrypt <plaintext>",
	Short: "Encrypt a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnvelope()
		if err != nil {
			return err
		}
		ct, err := e.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ct)
		return nil
	},
}

var envelopeDecryptCmd = &cobra.Command{
	Use:   "decrypt <ciphertext>",
	Short: "Decrypt a value produced by encrypt or by kioskd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnvelope()
		if err != nil {
			return err
		}
		pt, err := e.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pt)
		return nil
	},
}

var envelopeHashCmd = &cobra.Command{
	Use:   "hash <value>",
	Short: "Print the deterministic lookup hash of a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), envelope.HashForLookup(args[0]))
		return nil
	},
}

func init() {
	envelopeCmd.PersistentFlags().StringVar(&envelopeField, "field", "", "derive the per-field key (e.g. mobile); empty uses the root key")

	envelopeCmd.AddCommand(envelopeEncryptCmd)
	envelopeCmd.AddCommand(envelopeDecryptCmd)
	envelopeCmd.AddCommand(envelopeHashCmd)
}

func loadEnvelope() (*envelope.Envelope, error) {
	secret := viper.GetString("crypto.master_secret")
	if secret == "" {
		return nil, errors.New("crypto.master_secret is not set")
	}
	e, err := envelope.New(secret, envelope.Options{
		Salt:       viper.GetString("crypto.salt"),
		Iterations: viper.GetInt("crypto.iterations"),
	})
	if err != nil {
		return nil, err
	}
	if envelopeField == "" {
		return e, nil
	}
	return e.ForField(envelopeField)
}
