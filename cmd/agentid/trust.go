package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/trust"
)

var (
	trustDir      string
	trustFromJWKS string
	trustIssuerID string
	trustName     string
	trustKeyID    string
	trustVerified bool
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted issuer keys",
	Long: `Manage the local trust store used for offline credential verification.

Each issuer is stored with its Ed25519 public key.

Location: ~/.agentid/trust/ (or $AGENTID_TRUST_PATH)`,
}

var trustAddCmd = &cobra.Command{
	Use:   "add [jwk-file]",
	Short: "Add an issuer public key to the trust store",
	Long: `Add an issuer public key to the trust store.

Examples:
  # Add from a JWK file
  agentid trust add issuer.pub.jwk --issuer issuer-1 --name "Acme Issuer"

  # Add from a published key set
  agentid trust add --from-jwks https://issuer.example.com/.well-known/jwks.json --issuer issuer-1`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if trustIssuerID == "" {
			return fmt.Errorf("--issuer is required")
		}
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if trustFromJWKS != "" {
			set, err := crypto.NewHTTPKeySetFetcher(time.Minute).Fetch(ctx, trustFromJWKS)
			if err != nil {
				return err
			}
			if err := store.AddFromJWKS(ctx, set, trustIssuerID, trustName, trustKeyID); err != nil {
				return fmt.Errorf("failed to add key: %w", err)
			}
		} else {
			if len(args) == 0 {
				return fmt.Errorf("provide a JWK file path or use --from-jwks")
			}
			if err := addFromJWKFile(ctx, store, args[0]); err != nil {
				return err
			}
		}

		if trustVerified {
			iss, err := store.GetIssuer(ctx, trustIssuerID)
			if err != nil {
				return err
			}
			iss.Verified = true
			if err := store.SaveIssuer(ctx, iss); err != nil {
				return err
			}
		}
		fmt.Printf("✅ Added issuer: %s\n", trustIssuerID)
		return nil
	},
}

func addFromJWKFile(ctx context.Context, store *trust.FileStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse JWK: %w", err)
	}
	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key.Public()}}
	return store.AddFromJWKS(ctx, set, trustIssuerID, trustName, "")
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted issuers",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		issuers, err := store.List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list issuers: %w", err)
		}

		if len(issuers) == 0 {
			fmt.Println("No trusted issuers in store.")
			fmt.Println("\nAdd issuers with:")
			fmt.Println("  agentid trust add issuer.pub.jwk --issuer <id>")
			return nil
		}

		fmt.Printf("🔑 Trusted Issuers (%d):\n\n", len(issuers))
		for _, iss := range issuers {
			fmt.Printf("  Issuer: %s\n", iss.ID)
			if iss.Name != "" {
				fmt.Printf("    Name: %s\n", iss.Name)
			}
			fmt.Printf("    Verified: %t\n", iss.Verified)
			fmt.Printf("    Public Key: %s\n", iss.PublicKey)
			fmt.Println()
		}
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [issuer-id]",
	Short: "Remove an issuer from the trust store",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		if err := store.Remove(args[0]); err != nil {
			if err == credential.ErrIssuerNotFound {
				return fmt.Errorf("issuer not found: %s", args[0])
			}
			return fmt.Errorf("failed to remove issuer: %w", err)
		}
		fmt.Printf("✅ Removed issuer: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustRemoveCmd)

	trustCmd.PersistentFlags().StringVar(&trustDir, "trust-dir", "", "Trust store directory (default: ~/.agentid/trust)")
	trustAddCmd.Flags().StringVar(&trustFromJWKS, "from-jwks", "", "Fetch the key from a JWKS URL")
	trustAddCmd.Flags().StringVar(&trustIssuerID, "issuer", "", "Issuer id the key belongs to")
	trustAddCmd.Flags().StringVar(&trustName, "name", "", "Issuer display name")
	trustAddCmd.Flags().StringVar(&trustKeyID, "kid", "", "Key id to select from the key set")
	trustAddCmd.Flags().BoolVar(&trustVerified, "verified", false, "Mark the issuer as verified")
}
