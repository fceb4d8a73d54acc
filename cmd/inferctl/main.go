package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inferd/pkg/types"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRootCmd() *cobra.Command {
	var addr string
	var c *client

	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Operator CLI for the inferd daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("INFERCTL_ADDR", "http://127.0.0.1:8080"), "Base URL of the inferd daemon")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		c = newClient(addr)
	}

	root.AddCommand(&cobra.Command{
		Use:   "models",
		Short: "List discovered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.ModelsResponse
			if err := c.do("GET", "/models", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.StatusResponse
			if err := c.do("GET", "/status", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.VersionResponse
			if err := c.do("GET", "/version", nil, &resp); err != nil {
				return err
			}
			fmt.Println(resp.Version)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.CreateSessionResponse
			if err := c.do("POST", "/sessions", struct{}{}, &resp); err != nil {
				return err
			}
			fmt.Println(resp.ID)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "destroy <session>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("DELETE", "/sessions/"+args[0], nil, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "session <session>",
		Short: "Show one session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.SessionStatus
			if err := c.do("GET", "/sessions/"+args[0], nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "load <session> <model>",
		Short: "Load a model into a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("POST", "/sessions/"+args[0]+"/load", types.LoadRequest{Model: args[1]}, nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "unload <session>",
		Short: "Unload a session's model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("POST", "/sessions/"+args[0]+"/unload", struct{}{}, nil)
		},
	})

	var maxTokens int
	var temperature float32
	generateCmd := &cobra.Command{
		Use:   "generate <session> <prompt>",
		Short: "Stream a completion to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.GenerateRequest{Prompt: args[1], MaxTokens: maxTokens, Temperature: temperature}
			final, err := c.generate(args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "finish=%s prompt_tokens=%d generated=%d truncated=%v dur=%dms\n",
				final.FinishReason, final.PromptTokens, final.GeneratedTokens, final.Truncated, final.DurationMs)
			return nil
		},
	}
	generateCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Override max new tokens (0=session default)")
	generateCmd.Flags().Float32Var(&temperature, "temperature", 0, "Override sampling temperature (0=session default)")
	root.AddCommand(generateCmd)

	root.AddCommand(&cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel the session's in-flight generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.do("POST", "/sessions/"+args[0]+"/cancel", struct{}{}, nil)
		},
	})

	return root
}

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
