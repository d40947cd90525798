package lsp

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
)

// DocumentFilter selects documents by scheme, language and path glob.
// Empty fields match anything.
type DocumentFilter struct {
	Language string `json:"language,omitempty"`
	Scheme   string `json:"scheme,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// DocumentSelector matches a document if any of its filters does.
type DocumentSelector []DocumentFilter

// Matches reports whether the filter accepts the document.
func (f DocumentFilter) Matches(uri DocumentURI, languageID string) bool {
	if f.Scheme != "" && f.Scheme != uriScheme(uri) {
		return false
	}
	if f.Language != "" && f.Language != languageID {
		return false
	}
	if f.Pattern != "" {
		path := filepath.ToSlash(URIToFilePath(uri))
		path = strings.TrimPrefix(path, "/")
		ok, err := doublestar.Match(f.Pattern, path)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Matches reports whether any filter accepts the document.
func (s DocumentSelector) Matches(uri DocumentURI, languageID string) bool {
	for _, f := range s {
		if f.Matches(uri, languageID) {
			return true
		}
	}
	return false
}

// LanguageIDForPath guesses the language identifier the editor would assign
// to a file on disk.
func LanguageIDForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return "yaml"
	case ".json":
		return "json"
	case ".j2", ".jinja", ".jinja2":
		return "jinja"
	case ".py":
		return "python"
	case ".sh":
		return "shellscript"
	case ".cfg", ".ini":
		return "ini"
	default:
		return "plaintext"
	}
}
