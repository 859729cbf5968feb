package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/crypto"
	"github.com/agentid-dev/agentid-core/pkg/revocation"
	"github.com/agentid-dev/agentid-core/pkg/trust"
)

// defaultValidity applies when a payload to sign carries no validity window.
const defaultValidity = 7 * 24 * time.Hour

var (
	signKeyPath  string
	signOut      string
	signIssuer   string
	signValidFor time.Duration

	verifyTrustDir       string
	verifyRevocationPath string
	verifyAction         string
	verifyResource       string
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Sign and verify credentials offline",
}

var credentialSignCmd = &cobra.Command{
	Use:   "sign [payload.json]",
	Short: "Sign a credential payload with an issuer key",
	Example: `  agentid credential sign payload.json --key private.jwk --issuer issuer-1 --out credential.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		keyData, err := os.ReadFile(signKeyPath)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		priv, _, err := crypto.ParsePrivateJWK(keyData)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		signed, err := signPayload(raw, signIssuer, signValidFor, time.Now(), priv)
		if err != nil {
			return err
		}
		if signOut == "" {
			out, err := json.MarshalIndent(signed, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		if err := writeJSON(signOut, signed, 0644); err != nil {
			return fmt.Errorf("failed to write credential: %w", err)
		}
		fmt.Printf("✅ Credential %s saved to %s\n", signed.CredentialID, signOut)
		return nil
	},
}

// signPayload decodes a payload document, fills the issuer and validity
// window when absent and signs it.
func signPayload(raw []byte, issuerID string, validFor time.Duration, now time.Time, priv ed25519.PrivateKey) (credential.Payload, error) {
	var p credential.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return credential.Payload{}, fmt.Errorf("failed to parse payload: %w", err)
	}
	if issuerID != "" {
		p.Issuer.IssuerID = issuerID
	}
	if p.Constraints.ValidFrom.IsZero() {
		p.Constraints.ValidFrom = now
	}
	if p.Constraints.ValidUntil.IsZero() {
		if validFor <= 0 {
			validFor = defaultValidity
		}
		p.Constraints.ValidUntil = p.Constraints.ValidFrom.Add(validFor)
	}
	return credential.Issue(p, priv)
}

var credentialVerifyCmd = &cobra.Command{
	Use:   "verify [credential.json]",
	Short: "Verify a signed credential against the local trust store",
	Long: `Verify a signed credential offline. The issuer's key must be in the
trust store; a revocation cache file, when given, is consulted too.

Exits non-zero when the credential is not valid.`,
	Example: `  agentid credential verify credential.json
  agentid credential verify credential.json --action read --resource docs/1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read credential: %w", err)
		}
		res, err := verifyOffline(cmd.Context(), raw)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if !res.Valid {
			return fmt.Errorf("credential is not valid: %s", res.Code())
		}
		return nil
	},
}

func verifyOffline(ctx context.Context, raw []byte) (*credential.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	issuers, err := trust.NewFileStore(verifyTrustDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open trust store: %w", err)
	}
	cfg := credential.VerifierConfig{
		Credentials: credential.NewMemoryStore(),
		Issuers:     issuers,
	}
	if verifyRevocationPath != "" {
		revs, err := revocation.NewFileCache(verifyRevocationPath)
		if err != nil {
			return nil, err
		}
		cfg.Revocations = revs
	}
	v, err := credential.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}

	req := credential.Request{Credential: raw}
	if verifyAction != "" {
		req.CheckPermission = &credential.PermissionCheck{Action: verifyAction, Resource: verifyResource}
	}
	return v.Verify(ctx, req), nil
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialSignCmd)
	credentialCmd.AddCommand(credentialVerifyCmd)

	credentialSignCmd.Flags().StringVar(&signKeyPath, "key", "private.jwk", "Issuer private key (JWK format)")
	credentialSignCmd.Flags().StringVar(&signOut, "out", "", "Output path (default: stdout)")
	credentialSignCmd.Flags().StringVar(&signIssuer, "issuer", "", "Issuer id (overrides issuer.issuer_id)")
	credentialSignCmd.Flags().DurationVar(&signValidFor, "valid-for", defaultValidity, "Validity when the payload has no valid_until")

	credentialVerifyCmd.Flags().StringVar(&verifyTrustDir, "trust-dir", "", "Trust store directory (default: ~/.agentid/trust)")
	credentialVerifyCmd.Flags().StringVar(&verifyRevocationPath, "revocations", "", "Revocation cache file")
	credentialVerifyCmd.Flags().StringVar(&verifyAction, "action", "", "Also check this action is granted")
	credentialVerifyCmd.Flags().StringVar(&verifyResource, "resource", "", "Resource for --action")
}
