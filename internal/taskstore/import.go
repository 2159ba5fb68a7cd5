package taskstore

import (
	"bytes"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/shepherd/pkg/models"
)

// Plan is the YAML document accepted by Import: either a bare list of tasks
// or a mapping with a tasks key.
type Plan struct {
	Tasks []models.Task `yaml:"tasks"`
}

// ParsePlan decodes a plan and validates every task before anything is stored.
func ParsePlan(r io.Reader) ([]models.Task, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, models.Validationf("parse plan: %v", err)
	}
	if len(root.Content) == 0 {
		return nil, models.Validationf("plan is empty")
	}

	var plan Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if root.Content[0].Kind == yaml.SequenceNode {
		err = dec.Decode(&plan.Tasks)
	} else {
		err = dec.Decode(&plan)
	}
	if err != nil {
		return nil, models.Validationf("decode plan: %v", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, models.Validationf("plan contains no tasks")
	}

	seen := make(map[string]bool, len(plan.Tasks))
	for i := range plan.Tasks {
		t := &plan.Tasks[i]
		if t.ID != "" {
			if seen[t.ID] {
				return nil, models.Validationf("plan lists task %s twice", t.ID)
			}
			seen[t.ID] = true
		}
		entry := *t
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("plan-entry-%d", i+1)
		}
		if err := models.ValidateStruct(&entry); err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i+1, entry.Name, err)
		}
	}
	return plan.Tasks, nil
}

// Import parses a plan and creates each task in todo. It stops at the first
// failure and returns the tasks created so far.
func (s *Store) Import(r io.Reader) ([]*models.Task, error) {
	tasks, err := ParsePlan(r)
	if err != nil {
		return nil, err
	}
	created := make([]*models.Task, 0, len(tasks))
	for i := range tasks {
		t, err := s.Create(&tasks[i])
		if err != nil {
			return created, fmt.Errorf("create %q: %w", tasks[i].Name, err)
		}
		created = append(created, t)
	}
	return created, nil
}
