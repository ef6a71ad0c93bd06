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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/chorus/pkg/workspace"
)

var validateCmd = &cobra.Command{
	Use:   "validate [workspace]",
	Short: "Validate a workspace definition",
	Long: `Validate a workspace definition without running it: schema check,
then cross-reference check (team members, channel members, coordinators).

Examples:
  chorus validate newsroom
  chorus validate ./workspaces/newsroom.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	def := loadWorkspace(args[0])

	fmt.Printf("✅ %s is valid\n", args[0])
	fmt.Printf("   Title:    %s\n", def.Title)
	fmt.Printf("   Agents:   %d\n", len(def.Agents))
	if len(def.Teams) > 0 {
		fmt.Printf("   Teams:    %d\n", len(def.Teams))
	}
	if len(def.Channels) > 0 {
		fmt.Printf("   Channels: %d\n", len(def.Channels))
	}
	if len(def.StopConditions) == 0 {
		fmt.Println("   Note: no stop conditions; the workspace only stops on SIGINT")
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspace definitions under the root directory",
	Args:  cobra.NoArgs,
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	root := viper.GetString("workspace.root")
	names, err := workspace.ListDefinitions(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if len(names) == 0 {
		fmt.Printf("No workspace definitions under %s\n", root)
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}
