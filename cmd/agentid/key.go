package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/pkg/crypto"
)

var (
	keyOutPrivate string
	keyOutPublic  string
	keyID         string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage issuer signing keys",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new Ed25519 key pair",
	Long: `Generate a new Ed25519 key pair for signing credentials.

Outputs:
  - Private key in JWK format (for "agentid credential sign")
  - Public key in JWK format (for "agentid trust add")`,
	Example: `  # Generate keys with default names
  agentid key gen

  # Generate keys with custom names and key id
  agentid key gen --out-priv issuer.key.jwk --out-pub issuer.pub.jwk --kid issuer-1`,
	RunE: func(_ *cobra.Command, _ []string) error {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		kid := keyID
		if kid == "" {
			kid = "key_" + uuid.NewString()
		}

		if err := writeJSON(keyOutPrivate, crypto.PrivateKeyToJWK(kp.Private, kid), 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}
		fmt.Printf("✅ Private Key saved to %s\n", keyOutPrivate)

		if err := writeJSON(keyOutPublic, crypto.PublicKeyToJWK(kp.Public, kid), 0644); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
		fmt.Printf("✅ Public Key saved to %s\n", keyOutPublic)
		fmt.Printf("🔑 kid: %s\n", kid)
		fmt.Printf("   public key (base64): %s\n", kp.PublicKeyBase64())
		return nil
	},
}

func writeJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-priv", "private.jwk", "Output path for private key (JWK format)")
	keyGenCmd.Flags().StringVar(&keyOutPublic, "out-pub", "public.jwk", "Output path for public key (JWK format)")
	keyGenCmd.Flags().StringVar(&keyID, "kid", "", "Key ID (default: generated)")
}
