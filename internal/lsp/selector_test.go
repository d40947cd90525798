package lsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentSelector_Matches(t *testing.T) {
	sel := ansibleSelector()

	tests := []struct {
		name     string
		uri      DocumentURI
		language string
		want     bool
	}{
		{"ansible language", "file:///repo/notes.txt", "ansible", true},
		{"yaml language", "file:///repo/x", "yaml", true},
		{"yml glob", "file:///repo/roles/web/tasks/main.yml", "plaintext", true},
		{"yaml glob at root", "file:///site.yaml", "plaintext", true},
		{"other extension", "file:///repo/main.py", "python", false},
		{"untitled scheme", "untitled:Untitled-1", "yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sel.Matches(tt.uri, tt.language))
		})
	}
}

func TestDocumentFilter_EmptyMatchesAll(t *testing.T) {
	assert.True(t, DocumentFilter{}.Matches("untitled:x", ""))
}

func TestLanguageIDForPath(t *testing.T) {
	tests := map[string]string{
		"site.yml":            "yaml",
		"group_vars/all.YAML": "yaml",
		"templates/a.j2":      "jinja",
		"README":              "plaintext",
	}
	for path, want := range tests {
		assert.Equal(t, want, LanguageIDForPath(path), path)
	}
}

func TestURIRoundTrip(t *testing.T) {
	uri := FilePathToURI("/tmp/play book.yml")
	assert.Equal(t, DocumentURI("file:///tmp/play%20book.yml"), uri)
	assert.Equal(t, "/tmp/play book.yml", URIToFilePath(uri))
	assert.Equal(t, "untitled:x", URIToFilePath("untitled:x"))
}
