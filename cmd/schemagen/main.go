// Command schemagen emits a JSON Schema for the wire protocol so browser
// client implementations can validate their messages against the server's
// contract.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/plaza/server/internal/protocol"
)

// wireContract groups every message shape the schema should cover.
type wireContract struct {
	Envelope   protocol.Message           `json:"envelope"`
	Player     protocol.Player            `json:"player"`
	Join       protocol.JoinPayload       `json:"player_join"`
	IDAssigned protocol.IDAssignedPayload `json:"player_id_assigned"`
	Sync       protocol.SyncPayload       `json:"players_sync"`
	Move       protocol.MovePayload       `json:"player_move"`
	Update     protocol.UpdatePayload     `json:"player_update"`
	Chat       protocol.ChatPayload       `json:"chat"`
	Leave      protocol.LeavePayload      `json:"player_leave"`
	Batch      protocol.BatchPayload      `json:"batch"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	schema := buildSchema()

	if err := writeSchema(outPath, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(wireContract))
	schema.Title = "Plaza Wire Protocol"
	schema.Description = "Message envelope and payloads exchanged over the realtime websocket."
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
