// Package directory loads the user directory that approval rosters are drawn from.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/punchamoorthee/cashflow/internal/domain"
	"gopkg.in/yaml.v3"
)

// Entry is the typed shape of one directory user.
type Entry struct {
	Active bool
	Role   domain.Role
	Name   string
}

// Directory maps a user id to its entry.
type Directory map[int64]Entry

// Loader returns a fresh directory snapshot.
type Loader interface {
	Load(ctx context.Context) (Directory, error)
}

// Static serves a fixed snapshot.
type Static Directory

func (s Static) Load(context.Context) (Directory, error) {
	out := make(Directory, len(s))
	for id, e := range s {
		out[id] = e
	}
	return out, nil
}

// FileLoader reads a JSON or YAML file on every Load.
// Both a list of records and an id-keyed object are accepted.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Load(ctx context.Context) (Directory, error) {
	raw, err := os.ReadFile(filepath.Clean(l.path))
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", l.path, err)
	}
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		return parseYAML(raw)
	default:
		return parseJSON(raw)
	}
}

type record struct {
	TelegramID int64    `json:"telegram_id" yaml:"telegram_id"`
	ID         int64    `json:"id" yaml:"id"`
	Active     flexBool `json:"active" yaml:"active"`
	Role       string   `json:"role" yaml:"role"`
	Name       string   `json:"name" yaml:"name"`
	FullName   string   `json:"full_name" yaml:"full_name"`
}

func (r record) userID() int64 {
	if r.TelegramID != 0 {
		return r.TelegramID
	}
	return r.ID
}

func (r record) entry(id int64) Entry {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = strings.TrimSpace(r.FullName)
	}
	if name == "" {
		name = strconv.FormatInt(id, 10)
	}
	return Entry{Active: bool(r.Active), Role: domain.ParseRole(r.Role), Name: name}
}

func parseJSON(raw []byte) (Directory, error) {
	var list []record
	if err := json.Unmarshal(raw, &list); err == nil {
		return fromList(list), nil
	}
	var keyed map[string]record
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("directory must be a list or an object: %w", err)
	}
	dir := make(Directory, len(keyed))
	for k, r := range keyed {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		dir[id] = r.entry(id)
	}
	return dir, nil
}

func parseYAML(raw []byte) (Directory, error) {
	var list []record
	if err := yaml.Unmarshal(raw, &list); err == nil {
		return fromList(list), nil
	}
	var keyed map[int64]record
	if err := yaml.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("directory must be a list or a mapping: %w", err)
	}
	dir := make(Directory, len(keyed))
	for id, r := range keyed {
		if id == 0 {
			continue
		}
		dir[id] = r.entry(id)
	}
	return dir, nil
}

func fromList(list []record) Directory {
	dir := make(Directory, len(list))
	for _, r := range list {
		id := r.userID()
		if id == 0 {
			continue
		}
		dir[id] = r.entry(id)
	}
	return dir
}

// flexBool accepts true, 1 and "true" as active.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	*b = flexBool(truthy(strings.Trim(string(data), `"`)))
	return nil
}

func (b *flexBool) UnmarshalYAML(node *yaml.Node) error {
	*b = flexBool(truthy(node.Value))
	return nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true
	}
	return false
}
