package discovery

import (
	"testing"

	"github.com/shehryarbajwa/autoaccept/pkg/models"
)

func TestShouldAttach(t *testing.T) {
	tests := []struct {
		name     string
		page     models.Page
		expected bool
	}{
		{
			name:     "cursor workbench",
			page:     models.Page{Type: "page", URL: "vscode-file://vscode-app/Applications/Cursor.app/workbench/workbench.html", Title: "main.go - project"},
			expected: true,
		},
		{
			name:     "antigravity by title only",
			page:     models.Page{Type: "page", URL: "app://index.html", Title: "Antigravity - Agent Manager"},
			expected: true,
		},
		{
			name:     "missing type is accepted",
			page:     models.Page{URL: "vscode-file://vscode-app/workbench.html"},
			expected: true,
		},
		{
			name:     "service worker rejected",
			page:     models.Page{Type: "service_worker", URL: "vscode-file://vscode-app/workbench.html"},
			expected: false,
		},
		{
			name:     "empty url rejected",
			page:     models.Page{Type: "page", Title: "Cursor"},
			expected: false,
		},
		{
			name:     "extension scheme rejected",
			page:     models.Page{Type: "page", URL: "chrome-extension://abc/cursor.html", Title: "Cursor"},
			expected: false,
		},
		{
			name:     "devtools scheme rejected",
			page:     models.Page{Type: "page", URL: "devtools://devtools/bundled/inspector.html", Title: "Cursor"},
			expected: false,
		},
		{
			name:     "shared process rejected",
			page:     models.Page{Type: "page", URL: "vscode-file://vscode-app/sharedProcess.html", Title: "Cursor"},
			expected: false,
		},
		{
			name:     "unrelated application rejected",
			page:     models.Page{Type: "page", URL: "https://example.com", Title: "Example"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ShouldAttach(tt.page)
			if result != tt.expected {
				t.Errorf("ShouldAttach(%+v) = %v, expected %v", tt.page, result, tt.expected)
			}
		})
	}
}

func TestCandidates(t *testing.T) {
	pages := []models.Page{
		{ID: "1", Type: "page", URL: "vscode-file://vscode-app/workbench.html"},
		{ID: "2", Type: "page", URL: "devtools://devtools/inspector.html"},
	}
	got := Candidates(pages)
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("Candidates() = %+v, want only page 1", got)
	}
}
