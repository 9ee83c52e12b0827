package projects

import (
	"path"
	"strings"
)

var languages = map[string]string{
	".go":    "Go",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".py":    "Python",
	".rb":    "Ruby",
	".java":  "Java",
	".kt":    "Kotlin",
	".cs":    "C#",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".cc":    "C++",
	".hpp":   "C++",
	".rs":    "Rust",
	".php":   "PHP",
	".swift": "Swift",
	".sol":   "Solidity",
	".sql":   "SQL",
	".sh":    "Shell",
	".yml":   "YAML",
	".yaml":  "YAML",
	".json":  "JSON",
	".tf":    "Terraform",
}

// DetectLanguage maps a file extension to a language name.
func DetectLanguage(name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "dockerfile" {
		return "Dockerfile"
	}
	if lang, ok := languages[path.Ext(base)]; ok {
		return lang
	}
	return "Unknown"
}
