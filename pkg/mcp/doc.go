// Package mcp exposes credential verification, A2A authorization checks and
// reputation lookups to agents over the Model Context Protocol.
//
// It has two parts:
//   - Guard decides whether a credential may invoke a named tool and
//     emits an evidence record for every decision
//   - Server registers tools, resources and prompts on an mcp-go server
//
// Usage:
//
//	guard := mcp.NewGuard(verifier, mcp.NewLocalEvidenceStore(dir))
//	srv := mcp.NewServer(mcp.Dependencies{Verifier: verifier, Guard: guard})
//	err := srv.Serve()
package mcp
