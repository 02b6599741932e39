package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memobank/memobank/internal/analyzer"
	"github.com/memobank/memobank/internal/storage"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Analyze text and store it as a memory",
	Long: `Analyze text and store it as a memory.

Examples:
  memobank add "Meet Alice for coffee Tuesday, her email is alice@x.com"
  memobank add "Steam account: handle=nightowl, backup email nightowl@x.com"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat/analyze", map[string]string{"content": content})
		if err != nil {
			return err
		}

		var result struct {
			Memory   storage.Memory   `json:"memory"`
			Analysis analyzer.Result  `json:"analysis"`
			Category storage.Category `json:"category"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored memory %d: %s", result.Memory.ID, result.Memory.Title)
		printStatus("Category", "%s", result.Category.Name)
		if len(result.Memory.Tags) > 0 {
			printStatus("Tags", "%s", strings.Join(result.Memory.Tags, ", "))
		}
		printStatus("Confidence", "%d", result.Memory.AIScore)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by semantic relevance",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		categoryID, _ := cmd.Flags().GetInt64("category")
		limit, _ := cmd.Flags().GetInt("limit")

		req := map[string]any{"query": query, "limit": limit}
		if categoryID > 0 {
			req["categoryId"] = categoryID
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/memories/search", req)
		if err != nil {
			return err
		}

		var memories []storage.Memory
		if err := decodeJSON(resp, &memories); err != nil {
			return err
		}

		if len(memories) == 0 {
			printWarning("no matching memories")
			return nil
		}
		printMemories(memories)
		return nil
	},
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		categoryID, _ := cmd.Flags().GetInt64("category")

		path := "/memories"
		if categoryID > 0 {
			path = fmt.Sprintf("/memories?categoryId=%d", categoryID)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var memories []storage.Memory
		if err := decodeJSON(resp, &memories); err != nil {
			return err
		}

		if len(memories) == 0 {
			printWarning("no memories stored")
			return nil
		}
		printMemories(memories)
		return nil
	},
}

// --- categories ---

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories with memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/categories")
		if err != nil {
			return err
		}

		var categories []storage.Category
		if err := decodeJSON(resp, &categories); err != nil {
			return err
		}

		for _, c := range categories {
			printStatus(c.Name, "%d", c.Count)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int64("category", 0, "restrict to a category id")
	searchCmd.Flags().Int("limit", 50, "maximum number of results")
	listCmd.Flags().Int64("category", 0, "restrict to a category id")
}

func printMemories(memories []storage.Memory) {
	for _, m := range memories {
		label := m.Title
		if len(m.Tags) > 0 {
			label = fmt.Sprintf("%s [%s]", label, strings.Join(m.Tags, ", "))
		}
		printStatus(fmt.Sprintf("#%d", m.ID), "%s", label)
	}
}
