package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileLoader_Load(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		expected Directory
	}{
		{
			name: "json list",
			file: "users.json",
			content: `[
				{"telegram_id": 10, "active": true, "role": "admin", "name": "Anna"},
				{"id": 20, "active": 1, "role": "cash_signer", "full_name": "Boris"},
				{"telegram_id": 30, "active": "false", "role": "cash_signer"},
				{"active": true, "role": "admin"}
			]`,
			expected: Directory{
				10: {Active: true, Role: domain.RoleAdmin, Name: "Anna"},
				20: {Active: true, Role: domain.RoleSigner, Name: "Boris"},
				30: {Active: false, Role: domain.RoleSigner, Name: "30"},
			},
		},
		{
			name:    "json object keyed by id",
			file:    "users.json",
			content: `{"5": {"active": true, "role": "viewer", "name": "Vera"}, "bad": {"active": true}}`,
			expected: Directory{
				5: {Active: true, Role: domain.RoleViewer, Name: "Vera"},
			},
		},
		{
			name: "yaml list",
			file: "users.yaml",
			content: `
- telegram_id: 7
  active: true
  role: cash_signer
  name: Gleb
- telegram_id: 8
  active: no
  role: root
`,
			expected: Directory{
				7: {Active: true, Role: domain.RoleSigner, Name: "Gleb"},
				8: {Active: false, Role: domain.RoleUnknown, Name: "8"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			loader := NewFileLoader(writeFile(t, tc.file, tc.content))
			actual, err := loader.Load(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, tc.expected, actual)
		})
	}
}

func TestFileLoader_Errors(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background())
	assert.Error(t, err)

	_, err = NewFileLoader(writeFile(t, "users.json", `"nope"`)).Load(context.Background())
	assert.Error(t, err)
}

func TestStatic_LoadReturnsCopy(t *testing.T) {
	src := Static{1: {Active: true, Role: domain.RoleAdmin, Name: "A"}}
	dir, err := src.Load(context.Background())
	require.NoError(t, err)
	dir[2] = Entry{Active: true}
	assert.Len(t, src, 1)
}
