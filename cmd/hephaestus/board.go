package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hephaestus-dev/hephaestus/internal/blocking"
	"github.com/hephaestus-dev/hephaestus/internal/config"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/internal/ticket"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Import or export a workflow's ticket board",
}

var boardExportCmd = &cobra.Command{
	Use:   "export <workflow-id> <file>",
	Short: "Write a workflow's board configuration to a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := openTicketService()
		if err != nil {
			return err
		}
		defer closeDB()

		board, err := svc.Board(args[0])
		if err != nil {
			return err
		}
		if err := ticket.SaveBoardFile(args[1], board); err != nil {
			return err
		}
		fmt.Printf("%s exported board for %s to %s\n", color.GreenString("✓"), args[0], args[1])
		return nil
	},
}

var boardImportCmd = &cobra.Command{
	Use:   "import <workflow-id> <file>",
	Short: "Load a board configuration from a YAML file and save it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB, err := openTicketService()
		if err != nil {
			return err
		}
		defer closeDB()

		board, err := ticket.LoadBoardFile(args[1], args[0])
		if err != nil {
			return err
		}
		if err := svc.ConfigureBoard(board); err != nil {
			return err
		}
		fmt.Printf("%s board for %s: columns %v, initial %q\n",
			color.GreenString("✓"), args[0], board.Columns, board.InitialStatus)
		return nil
	},
}

// openTicketService builds a ticket service over the state database, without
// embeddings or the vector index; board commands need neither.
func openTicketService() (*ticket.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := state.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	svc := ticket.NewService(db, blocking.NewService(db, nil), nil, nil)
	return svc, func() { db.Close() }, nil
}

func init() {
	boardCmd.AddCommand(boardExportCmd)
	boardCmd.AddCommand(boardImportCmd)
}
