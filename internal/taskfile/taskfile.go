// Package taskfile implements the line-delimited Task File format (§6):
// decoding, schema validation, and the skip-malformed-record policy from §7
// ("malformed task records are skipped"). The Memory File is read and
// written by internal/memory, not here, and is not schema-validated.
//
// Schema validation follows the pattern goa-ai's registry service uses for
// validating a JSON payload against a compiled JSON Schema document:
// unmarshal both schema and payload into `any`, compile with
// santhosh-tekuri/jsonschema/v6, and Validate the decoded document rather
// than the raw bytes.
package taskfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/fault"
	"github.com/LaoZhongjie/AWRR---Autonomous-Workflow-Recovery-Runtime/internal/oracle"
)

// Step is one planned tool call in a task's plan (§6).
type Step struct {
	StepIdx  int            `json:"step_idx"`
	StepName string         `json:"step_name"`
	ToolName string         `json:"tool_name"`
	Params   map[string]any `json:"params"`
}

// InitialWorldState is the task file's embedded starting snapshot (§6).
type InitialWorldState struct {
	Records   map[string]map[string]any `json:"records"`
	Inventory map[string]int            `json:"inventory"`
	AuditLog  []map[string]any          `json:"audit_log"`
}

// Task is one line-delimited task descriptor (§6).
type Task struct {
	TaskID            string                  `json:"task_id"`
	InitialWorldState InitialWorldState       `json:"initial_world_state"`
	Steps             []Step                  `json:"steps"`
	FaultInjections   []fault.Config          `json:"fault_injections"`
	SuccessCondition  oracle.SuccessCondition `json:"success_condition"`
}

// taskSchemaJSON is the JSON Schema every task file line must satisfy
// before being accepted. It captures only the structural shape §6
// specifies; tool-specific params are intentionally left unconstrained.
const taskSchemaJSON = `{
  "type": "object",
  "required": ["task_id", "steps", "success_condition"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "initial_world_state": {
      "type": "object",
      "properties": {
        "records": {"type": "object"},
        "inventory": {"type": "object"},
        "audit_log": {"type": "array"}
      }
    },
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["step_idx", "step_name", "tool_name"],
        "properties": {
          "step_idx": {"type": "integer"},
          "step_name": {"type": "string"},
          "tool_name": {"type": "string"},
          "params": {"type": "object"}
        }
      }
    },
    "fault_injections": {"type": "array"},
    "success_condition": {
      "type": "object",
      "required": ["type", "record_id", "expected_status"],
      "properties": {
        "type": {"type": "string"},
        "record_id": {"type": "string"},
        "expected_status": {"type": "string"}
      }
    }
  }
}`

// compileTaskSchema compiles taskSchemaJSON once, matching the
// unmarshal-then-AddResource-then-Compile sequence the registry service
// uses for its payload validation.
func compileTaskSchema() (*jsonschema.Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(taskSchemaJSON), &schemaDoc); err != nil {
		return nil, fmt.Errorf("taskfile: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("task.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("taskfile: add schema resource: %w", err)
	}
	return c.Compile("task.json")
}

// SkippedLine records one malformed task-file line skipped during Load
// (§7), with the line number (1-based) and the reason it was rejected.
type SkippedLine struct {
	Line   int
	Reason string
}

// Load reads a line-delimited task file at path, returning the
// successfully decoded and schema-valid tasks plus a record of every
// skipped line. A missing or unreadable file is returned as an error,
// matching §6's CLI contract ("exit code is zero unless the task file
// cannot be read").
func Load(path string) ([]Task, []SkippedLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader is Load's testable core, reading from an arbitrary io.Reader.
func LoadReader(r io.Reader) ([]Task, []SkippedLine, error) {
	schema, err := compileTaskSchema()
	if err != nil {
		return nil, nil, err
	}

	var tasks []Task
	var skipped []SkippedLine

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var doc any
		if err := json.Unmarshal(line, &doc); err != nil {
			skipped = append(skipped, SkippedLine{Line: lineNo, Reason: "invalid json: " + err.Error()})
			continue
		}
		if err := schema.Validate(doc); err != nil {
			skipped = append(skipped, SkippedLine{Line: lineNo, Reason: "schema: " + err.Error()})
			continue
		}

		var task Task
		if err := json.Unmarshal(line, &task); err != nil {
			skipped = append(skipped, SkippedLine{Line: lineNo, Reason: "decode: " + err.Error()})
			continue
		}
		tasks = append(tasks, task)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return tasks, skipped, nil
}
