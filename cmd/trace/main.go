package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/originaryx/trace/internal/bundle"
	"github.com/originaryx/trace/pkg/models"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trace",
	Short: "Originary Trace CLI",
	Long:  "A CLI for shipping crawl telemetry to and fetching compliance bundles from a Trace server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(bundleCmd())
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.getJSON("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				os.Exit(1)
			}
			printResult(result)
			return nil
		},
	}
}

// --- configure ---

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Save server address and credentials to ~/.trace/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("key-id"); v != "" {
				cfg.KeyID = v
			}
			if v, _ := cmd.Flags().GetString("secret"); v != "" {
				cfg.Secret = v
			}
			if v, _ := cmd.Flags().GetString("admin-token"); v != "" {
				cfg.AdminToken = v
			}
			if err := saveConfig(); err != nil {
				return err
			}
			fmt.Println("configuration saved to", configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address")
	cmd.Flags().String("key-id", "", "Tenant API key id")
	cmd.Flags().String("secret", "", "Tenant API secret (base64url)")
	cmd.Flags().String("admin-token", "", "Operator admin token")
	return cmd
}

// --- tenant ---

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Tenant administration (requires admin token)"}

	createCmd := &cobra.Command{
		Use:   "create <domain>",
		Short: "Register a tenant and issue its first API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, _ := cmd.Flags().GetInt("retention-days")
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.adminDo("POST", "/v1/admin/tenants", map[string]any{
				"domain":         args[0],
				"retention_days": retention,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().Int("retention-days", 0, "Event retention in days (0 = server default)")

	deleteCmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.adminDo("DELETE", "/v1/admin/tenants/"+args[0], nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(createCmd, deleteCmd)
	return cmd
}

// --- key ---

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "API key administration (requires admin token)"}

	rotateCmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate an API key secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID := cfg.KeyID
			if len(args) > 0 {
				keyID = args[0]
			}
			if keyID == "" {
				return fmt.Errorf("no key id given or configured")
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.adminDo("POST", "/v1/admin/keys/"+keyID+"/rotate", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(rotateCmd)
	return cmd
}

// --- policy ---

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Policy audit trail (requires admin token)"}

	setCmd := &cobra.Command{
		Use:   "set <tenant-id> <policy-file>",
		Short: "Append a new policy version from a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.adminDo("POST", "/v1/admin/policy", map[string]any{
				"tenant_id":   args[0],
				"policy_text": string(text),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(setCmd)
	return cmd
}

// --- send ---

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Sign and submit an event batch from a file or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			var err error
			if len(args) > 0 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			ndjson, _ := cmd.Flags().GetBool("ndjson")
			contentType := "application/json"
			if ndjson {
				contentType = "application/x-ndjson"
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.signedJSON("POST", "/v1/events", contentType, body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Bool("ndjson", false, "Submit as newline-delimited JSON")
	return cmd
}

// --- bundle ---

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bundle", Short: "Compliance bundles"}

	fetchCmd := &cobra.Command{
		Use:   "fetch <year> <month>",
		Short: "Generate and download the signed bundle for a month",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid year %q", args[0])
			}
			month, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid month %q", args[1])
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			status, data, err := client.signedDo("POST",
				fmt.Sprintf("/v1/compliance/bundle/%d/%d", year, month), "", nil)
			if err != nil {
				return err
			}
			if status != 200 {
				if _, perr := parseResponse(status, data); perr != nil {
					printError(perr.Error())
					return nil
				}
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = fmt.Sprintf("trace-bundle-%04d-%02d.json", year, month)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Println("bundle written to", out)
			return nil
		},
	}
	fetchCmd.Flags().StringP("output", "o", "", "Output file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List months with available data",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.signedJSON("GET", "/v1/compliance/bundle", "", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <bundle-file>",
		Short: "Verify a bundle signature against the server's published keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var signed models.SignedBundle
			if err := json.Unmarshal(data, &signed); err != nil {
				return fmt.Errorf("not a signed bundle: %w", err)
			}

			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			keys, err := bundle.NewFetcher(client.addr+"/.well-known/jwks.json", 5*time.Minute).Keys(ctx)
			if err != nil {
				return fmt.Errorf("fetching verification keys: %w", err)
			}

			header, err := bundle.NewVerifierFromKeySet(keys).Verify(&signed)
			if err != nil {
				printError(fmt.Sprintf("verification failed: %v", err))
				os.Exit(1)
			}
			manifest, err := bundle.Manifest(&signed)
			if err != nil {
				return err
			}
			printResult(map[string]any{
				"ok":           true,
				"kid":          header.Kid,
				"tenant_id":    manifest.TenantID,
				"domain":       manifest.Domain,
				"period":       fmt.Sprintf("%04d-%02d", manifest.Year, manifest.Month),
				"generated_at": manifest.GeneratedAt,
				"total_events": manifest.Summary.TotalEvents,
				"bot_events":   manifest.Summary.BotEvents,
			})
			return nil
		},
	}

	cmd.AddCommand(fetchCmd, listCmd, verifyCmd)
	return cmd
}
