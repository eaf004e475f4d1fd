// Package tools defines the task tools available to the agent.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskmind/taskmind/internal/tasks"
)

// Tool represents a callable tool. Parameters is the JSON-schema map
// served verbatim to the model; Execute validates incoming arguments
// against the same map.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, userID string, args map[string]any) map[string]any `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	names []string // registration order, for stable definitions
	store *tasks.Store
}

// NewRegistry creates a tool registry backed by the task store.
// It returns an error if any registered tool lacks a handler.
func NewRegistry(store *tasks.Store) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]*Tool),
		store: store,
	}
	r.registerBuiltins()

	for _, name := range r.names {
		if r.tools[name].Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", name)
		}
	}
	return r, nil
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "add_task",
		Description: "Create a new task for the user. Use this when the user wants to add, create, or remember something.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "The title of the task to create",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional description or details for the task",
				},
			},
			"required": []string{"title"},
		},
		Handler: r.handleAddTask,
	})

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "Get the user's tasks. Use this when the user wants to see, show, or list their tasks.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "pending", "completed"},
					"description": "Filter tasks by status. Use 'pending' for incomplete tasks, 'completed' for done tasks, 'all' for everything.",
				},
			},
			"required": []string{},
		},
		Handler: r.handleListTasks,
	})

	r.Register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as complete. Use this when the user says they finished, completed, or done with a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to mark as complete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleCompleteTask,
	})

	r.Register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task from the list. Use this when the user wants to remove, delete, or cancel a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to delete",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleDeleteTask,
	})

	r.Register(&Tool{
		Name:        "update_task",
		Description: "Update a task's title or description. Use this when the user wants to change, rename, or modify a task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the task to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New title for the task",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "New description for the task",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: r.handleUpdateTask,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.names = append(r.names, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns all tools in OpenAI function-calling format,
// in registration order.
func (r *Registry) Definitions() []map[string]any {
	var result []map[string]any
	for _, name := range r.names {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with given arguments. Failures are
// reported in the result map, never as a Go error, so the agent loop
// can hand them back to the model as ordinary tool results.
func (r *Registry) Execute(ctx context.Context, userID, name string, args map[string]any) map[string]any {
	tool := r.tools[name]
	if tool == nil {
		return map[string]any{"error": fmt.Sprintf("Unknown tool: %s", name)}
	}

	cleaned, err := validateArgs(tool.Parameters, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}

	return tool.Handler(ctx, userID, cleaned)
}

// validateArgs checks args against the tool's parameter schema:
// required fields present, types match, enum membership holds. JSON
// numbers arrive as float64; integer parameters are coerced to int64.
func validateArgs(schema, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	props, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return nil, fmt.Errorf("missing required parameter: %s", key)
			}
		}
	}

	cleaned := make(map[string]any, len(args))
	for key, val := range args {
		spec, ok := props[key].(map[string]any)
		if !ok {
			// Unknown parameters are dropped, not fatal. Models
			// occasionally invent extras.
			continue
		}

		switch spec["type"] {
		case "string":
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s must be a string", key)
			}
			if enum, ok := spec["enum"].([]string); ok && !contains(enum, s) {
				return nil, fmt.Errorf("parameter %s must be one of: %s", key, strings.Join(enum, ", "))
			}
			cleaned[key] = s
		case "integer":
			switch n := val.(type) {
			case float64:
				if n != float64(int64(n)) {
					return nil, fmt.Errorf("parameter %s must be an integer", key)
				}
				cleaned[key] = int64(n)
			case int64:
				cleaned[key] = n
			case int:
				cleaned[key] = int64(n)
			default:
				return nil, fmt.Errorf("parameter %s must be an integer", key)
			}
		case "boolean":
			b, ok := val.(bool)
			if !ok {
				return nil, fmt.Errorf("parameter %s must be a boolean", key)
			}
			cleaned[key] = b
		default:
			cleaned[key] = val
		}
	}

	return cleaned, nil
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

// Tool handlers

func (r *Registry) handleAddTask(ctx context.Context, userID string, args map[string]any) map[string]any {
	title, _ := args["title"].(string)
	if strings.TrimSpace(title) == "" {
		return map[string]any{"error": "title is required"}
	}

	var description *string
	if d, ok := args["description"].(string); ok {
		description = &d
	}

	task, err := r.store.Create(userID, title, description)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}

	return map[string]any{
		"task_id": task.ID,
		"status":  "created",
		"title":   task.Title,
	}
}

func (r *Registry) handleListTasks(ctx context.Context, userID string, args map[string]any) map[string]any {
	status, _ := args["status"].(string)
	if status == "" {
		status = tasks.StatusAll
	}

	list, err := r.store.List(userID, status)
	if err != nil {
		return map[string]any{"error": err.Error(), "tasks": []any{}}
	}

	taskList := make([]map[string]any, 0, len(list))
	for _, t := range list {
		entry := map[string]any{
			"id":         t.ID,
			"title":      t.Title,
			"completed":  t.Completed,
			"created_at": t.CreatedAt.Format("2006-01-02T15:04:05"),
		}
		if t.Description != nil {
			entry["description"] = *t.Description
		} else {
			entry["description"] = nil
		}
		taskList = append(taskList, entry)
	}

	return map[string]any{
		"tasks":         taskList,
		"count":         len(taskList),
		"status_filter": status,
	}
}

func (r *Registry) handleCompleteTask(ctx context.Context, userID string, args map[string]any) map[string]any {
	taskID, _ := args["task_id"].(int64)

	task, err := r.store.Complete(userID, taskID)
	if err != nil {
		return notFoundOrError(err, taskID)
	}

	return map[string]any{
		"task_id": task.ID,
		"status":  "completed",
		"title":   task.Title,
	}
}

func (r *Registry) handleDeleteTask(ctx context.Context, userID string, args map[string]any) map[string]any {
	taskID, _ := args["task_id"].(int64)

	task, err := r.store.Delete(userID, taskID)
	if err != nil {
		return notFoundOrError(err, taskID)
	}

	return map[string]any{
		"task_id": task.ID,
		"status":  "deleted",
		"title":   task.Title,
	}
}

func (r *Registry) handleUpdateTask(ctx context.Context, userID string, args map[string]any) map[string]any {
	taskID, _ := args["task_id"].(int64)

	var title, description *string
	if s, ok := args["title"].(string); ok {
		title = &s
	}
	if s, ok := args["description"].(string); ok {
		description = &s
	}

	task, err := r.store.Update(userID, taskID, title, description)
	if err != nil {
		return notFoundOrError(err, taskID)
	}

	return map[string]any{
		"task_id": task.ID,
		"status":  "updated",
		"title":   task.Title,
	}
}

func notFoundOrError(err error, taskID int64) map[string]any {
	if errors.Is(err, tasks.ErrNotFound) {
		return map[string]any{"error": "Task not found", "task_id": taskID}
	}
	return map[string]any{"error": err.Error()}
}
