package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "agentlee",
		Short: "Personal voice assistant with conversational memory, a notepad, and a Discord gateway",
		Long: strings.TrimSpace(`agentlee is a personal assistant runtime.

It keeps a bounded conversational memory with utility-weighted recall,
projects saved items into a notepad, periodically flushes the running
conversation into durable notes, and can listen for a wake phrase.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.agentlee config and workspace",
		Example: "  agentlee onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			onboard()
			return nil
		},
	}
}

func newChatCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive local session",
		Long:  "Start the assistant REPL with memory, notes, flush timer, and autosave active.",
		Example: strings.Join([]string{
			"  agentlee chat",
			"  agentlee chat --debug",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatSession(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Start the Discord gateway",
		Example: "  agentlee gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gateway(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage stored memory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the full memory state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return memoryExport()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Erase all turns and notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return memoryClear()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "propose",
		Short: "Condense recent conversation into a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			return memoryPropose()
		},
	})
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
