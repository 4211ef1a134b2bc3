package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/security/auth"
)

const defaultServer = "http://localhost:8080"

// NewRootCmd builds the identitysync command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "identitysync",
		Short:         "Operate the identity reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("server", envOr("IDENTITYSYNC_SERVER", defaultServer), "Server base URL")
	root.PersistentFlags().String("token", os.Getenv("IDENTITYSYNC_TOKEN"), "Bearer token for the server API")

	root.AddCommand(newTokenCmd(), newTriggerCmd(), newCacheCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage trigger tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a trigger token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			secret, _ := cmd.Flags().GetString("secret")

			tm, err := auth.NewTokenManager(secret, "identitysync")
			if err != nil {
				return err
			}
			token, err := tm.GenerateToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "Who the token is issued to (required)")
	issueCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	issueCmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to JWT_SECRET)")
	if err := issueCmd.MarkFlagRequired("subject"); err != nil {
		panic(err)
	}

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func newTriggerCmd() *cobra.Command {
	jobs := []string{domain.JobMembers, domain.JobSuspensions, domain.JobInactivity90, domain.JobInactivity180}
	return &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Run a reconciliation job now",
		Long:      "Run a reconciliation job now. Jobs: " + strings.Join(jobs, ", "),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := post(cmd, "/api/sync/"+args[0])
			if err != nil {
				return err
			}
			return printTriggerResponse(cmd.OutOrStdout(), body)
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the snapshot cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop cached directory and tenant snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := post(cmd, "/api/cache/clear"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	})
	return cacheCmd
}

func post(cmd *cobra.Command, path string) ([]byte, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		return nil, fmt.Errorf("a token is required (--token or IDENTITYSYNC_TOKEN)")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printTriggerResponse(out io.Writer, body []byte) error {
	var resp struct {
		Job     string          `json:"job"`
		Changes bool            `json:"changes"`
		DryRun  bool            `json:"dry_run"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	label := resp.Job
	if resp.DryRun {
		label += " (dry run)"
	}
	if !resp.Changes {
		fmt.Fprintf(out, "%s: %s\n", label, resp.Message)
		return nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Result, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	fmt.Fprintf(out, "%s:\n%s\n", label, pretty.String())
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
