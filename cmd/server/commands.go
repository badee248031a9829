package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/grpchealth"
	"github.com/ashureev/safecoach/internal/safety"
)

type classifyOutput struct {
	domain.ClassificationResult
	RuleMatched bool     `json:"rule_matched"`
	Precedence  []string `json:"precedence"`
}

func newClassifyCmd() *cobra.Command {
	var (
		rulesPath        string
		pending          bool
		awaitingLocation bool
		awaitingDetails  bool
	)
	cmd := &cobra.Command{
		Use:   "classify <text>",
		Short: "Classify a message with the deterministic rules only",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMatcher(rulesPath)
			if err != nil {
				return err
			}
			state := domain.SessionState{
				AwaitingLocation:       awaitingLocation,
				AwaitingBookingDetails: awaitingDetails,
			}
			if pending {
				state.Pending = &domain.PendingBookingProposal{}
			}

			msg := domain.NewMessage("cli", strings.Join(args, " "), time.Now())
			result, ok := safety.NewClassifier(m, nil, nil).ClassifyRules(msg, state)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{
				ClassificationResult: result,
				RuleMatched:          ok,
				Precedence:           safety.PrecedenceOrder(),
			})
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules file (default: built-in rules)")
	cmd.Flags().BoolVar(&pending, "pending", false, "pretend a booking proposal is pending")
	cmd.Flags().BoolVar(&awaitingLocation, "awaiting-location", false, "pretend a location was just asked for")
	cmd.Flags().BoolVar(&awaitingDetails, "awaiting-booking-details", false, "pretend booking details were just asked for")
	return cmd
}

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect safety rule files",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate a rules file and print its rule counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			m, err := loadMatcher(path)
			if err != nil {
				return fmt.Errorf("rules check: %w", err)
			}
			name := path
			if name == "" {
				name = "built-in rules"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d OK\n", name, m.Version())
			for list, n := range ruleCounts(m) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-20s %d\n", list, n)
			}
			return nil
		},
	})
	return rules
}

func newHealthcheckCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Query the gRPC health service; exits non-zero unless SERVING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := grpchealth.Probe(ctx, grpchealth.DefaultProbeConfig(addr))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %s is %s", grpchealth.ServiceName, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "gRPC health server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	return cmd
}
