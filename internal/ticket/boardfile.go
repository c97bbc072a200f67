package ticket

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// LoadBoardFile reads a board configuration from a YAML file. Fields left
// empty in the file fall back to the default board.
func LoadBoardFile(path, workflowID string) (*models.BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board file: %w", err)
	}

	board := models.DefaultBoardConfig(workflowID)
	if err := yaml.Unmarshal(data, board); err != nil {
		return nil, fmt.Errorf("parse board file %s: %w", path, err)
	}
	if board.WorkflowID == "" {
		board.WorkflowID = workflowID
	}
	return board, nil
}

// SaveBoardFile writes a board configuration as YAML.
func SaveBoardFile(path string, board *models.BoardConfig) error {
	data, err := yaml.Marshal(board)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write board file: %w", err)
	}
	return nil
}
