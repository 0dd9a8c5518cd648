package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/samvad-hq/sentinel-go/internal/app"
	"github.com/samvad-hq/sentinel-go/pkg/sentinel"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(e *env) *cobra.Command {
	var (
		prompt, user, session string
		attrs                 map[string]string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a prompt for threats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.NewClient(e.cfg)
			if err != nil {
				return err
			}
			req := sentinel.ThreatAnalysisRequest{Prompt: prompt, Context: parseAttrs(attrs)}
			if user != "" {
				req.UserID = sentinel.String(user)
			}
			if session != "" {
				req.SessionID = sentinel.String(session)
			}

			resp, err := client.AnalyzeThreat(cmd.Context(), req)
			var serr *sentinel.Error
			if errors.As(err, &serr) && serr.Analysis != nil {
				// Print the analysis so callers can inspect it; the exit status
				// still reports the detection.
				if werr := e.writeJSON(serr.Analysis); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			return e.writeJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text to analyze (required)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID")
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session ID")
	cmd.Flags().StringToStringVarP(&attrs, "context", "c", nil, "Context entries as key=value; values are parsed as JSON when possible")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newValidateCmd(e *env) *cobra.Command {
	var (
		content, policyType string
		attrs               map[string]string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate content against a policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.NewClient(e.cfg)
			if err != nil {
				return err
			}
			resp, err := client.ValidatePolicy(cmd.Context(), sentinel.PolicyValidationRequest{
				Content:    content,
				PolicyType: policyType,
				Metadata:   parseAttrs(attrs),
			})
			if err != nil {
				return err
			}
			return e.writeJSON(resp)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "Content to validate (required)")
	cmd.Flags().StringVarP(&policyType, "policy-type", "t", "", "Policy type (required)")
	cmd.Flags().StringToStringVarP(&attrs, "metadata", "m", nil, "Metadata entries as key=value; values are parsed as JSON when possible")
	_ = cmd.MarkFlagRequired("content")
	_ = cmd.MarkFlagRequired("policy-type")
	return cmd
}

func newChatCmd(e *env) *cobra.Command {
	var (
		model, tenant string
		messages      []string
		maxTokens     int
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a chat completion through the guarded gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.NewClient(e.cfg)
			if err != nil {
				return err
			}
			req := sentinel.ChatCompletionRequest{Model: model, Tenant: tenant}
			for _, m := range messages {
				role, content, ok := strings.Cut(m, ":")
				if !ok {
					role, content = "user", m
				}
				req.Messages = append(req.Messages, sentinel.ChatMessage{
					Role:    strings.TrimSpace(role),
					Content: strings.TrimSpace(content),
				})
			}
			if maxTokens > 0 {
				req.MaxTokens = &maxTokens
			}
			resp, err := client.ChatCompletion(cmd.Context(), req)
			if err != nil {
				return err
			}
			return e.writeJSON(resp)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model name (required)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant sent as X-Tenant (overrides SENTINEL_TENANT)")
	cmd.Flags().StringArrayVarP(&messages, "message", "m", nil, "Message as role:content; a bare value is a user message")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Completion token limit")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newHealthCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check service health; exits non-zero when unhealthy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.NewClient(e.cfg)
			if err != nil {
				return err
			}
			healthy, err := client.HealthCheck(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.writeJSON(map[string]any{"healthy": healthy, "base_url": client.BaseURL()}); err != nil {
				return err
			}
			if !healthy {
				return fmt.Errorf("service at %s is unhealthy", client.BaseURL())
			}
			return nil
		},
	}
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print SDK and service versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := app.NewClient(e.cfg)
			if err != nil {
				return err
			}
			info, err := client.Version(cmd.Context())
			if err != nil {
				return err
			}
			return e.writeJSON(map[string]any{"sdk": sentinel.Version, "service": info})
		},
	}
}

func newScanCmd(e *env) *cobra.Command {
	var (
		manifestPath string
		once         bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every item in a manifest and publish alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if manifestPath != "" {
				e.cfg.ManifestFile = manifestPath
			}
			if once {
				e.cfg.ScanInterval = 0
			}
			sc, err := app.NewScanner(cmd.Context(), e.cfg, e.log)
			if err != nil {
				return err
			}
			sum, runErr := sc.Run(cmd.Context())
			if err := e.writeJSON(sum); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "Manifest file (overrides MANIFEST_FILE)")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass even when SCAN_INTERVAL is set")
	return cmd
}

func (e *env) writeJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAttrs converts key=value flags into a JSON map. A value that parses as
// JSON keeps its type; anything else is sent as a string.
func parseAttrs(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, raw := range in {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[strings.TrimSpace(k)] = v
	}
	return out
}
