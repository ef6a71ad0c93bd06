// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	chorulog "github.com/teradata-labs/chorus/internal/log"
	"github.com/teradata-labs/chorus/pkg/agent"
	"github.com/teradata-labs/chorus/pkg/types"
	"github.com/teradata-labs/chorus/pkg/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run [workspace]",
	Short: "Run a workspace until a stop condition fires",
	Long: `Run a workspace: start every agent and team, deliver the configured
start messages and block until a stop condition fires or the process receives
SIGINT/SIGTERM.

Messages addressed to the human are echoed to stdout.

Examples:
  chorus run newsroom
  chorus run newsroom --root ./workspaces --history run.db
  chorus run newsroom --resume snapshot.ndjson --snapshot snapshot.ndjson`,
	Args: cobra.ExactArgs(1),
	Run:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("history", "", "SQLite file recording every routed message")
	runCmd.Flags().String("snapshot", "", "write a snapshot to this path on shutdown")
	runCmd.Flags().String("resume", "", "restore pending messages and agent state from a snapshot")
	runCmd.Flags().Bool("fail-fast", false, "stop the workspace on the first agent crash")
}

func runRun(cmd *cobra.Command, args []string) {
	logger := buildLogger()
	defer func() { _ = chorulog.Sync() }()

	def := loadWorkspace(args[0])

	registry := agent.NewRegistry()
	agent.RegisterBuiltins(registry)

	historyPath, _ := cmd.Flags().GetString("history")
	failFast, _ := cmd.Flags().GetBool("fail-fast")

	ctrl, err := workspace.NewController(workspace.Config{
		Definition:  def,
		Registry:    registry,
		HistoryPath: historyPath,
		FailFast:    failFast,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	if resume, _ := cmd.Flags().GetString("resume"); resume != "" {
		if err := ctrl.Load(resume); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		chorulog.Info("Resumed from snapshot", zap.String("path", resume))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Echo everything addressed to the human.
	ctrl.AddMessageListener(func(msg *types.Message) {
		if msg.Type() == types.EventMessage && msg.Destination == types.User {
			fmt.Printf("[%s] %s\n", msg.Source, msg.Content)
		}
	})

	chorulog.Info("Starting workspace",
		zap.String("title", def.Title),
		zap.String("version", rootCmd.Version))

	if err := ctrl.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	if snapshot, _ := cmd.Flags().GetString("snapshot"); snapshot != "" {
		if err := ctrl.Snapshot(snapshot); err != nil {
			fmt.Fprintf(os.Stderr, "❌ snapshot failed: %v\n", err)
			os.Exit(1)
		}
		chorulog.Info("Snapshot written", zap.String("path", snapshot))
	}
}

// loadWorkspace resolves and loads a definition by name, or by path when the
// argument points at a file.
func loadWorkspace(name string) *workspace.Definition {
	path := name
	if _, err := os.Stat(path); err != nil {
		root := viper.GetString("workspace.root")
		path, err = workspace.FindDefinition(root, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	}
	def, err := workspace.LoadDefinition(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	return def
}
