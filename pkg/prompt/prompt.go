// Package prompt assembles the system prompt that grounds a chat in the
// repository the user is looking at.
package prompt

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	maxTreeEntries = 100
	maxReadmeChars = 3000
	maxFileChars   = 8000
)

// PageType is the kind of repository page being viewed.
type PageType string

const (
	PageHome   PageType = "home"
	PageTree   PageType = "tree"
	PageBlob   PageType = "blob"
	PageIssues PageType = "issues"
	PagePulls  PageType = "pulls"
	PageOther  PageType = "other"
)

func (p PageType) label() string {
	switch p {
	case PageHome:
		return "Repository home"
	case PageTree:
		return "Directory listing"
	case PageBlob:
		return "File view"
	case PageIssues:
		return "Issues"
	case PagePulls:
		return "Pull requests"
	case PageOther:
		return "Other page"
	default:
		return "Unknown"
	}
}

// NodeType distinguishes files from directories in a tree listing.
type NodeType string

const (
	NodeBlob NodeType = "blob"
	NodeTree NodeType = "tree"
)

// TreeNode is one entry of the repository file tree.
type TreeNode struct {
	Path string   `yaml:"path"`
	Type NodeType `yaml:"type"`
	Size int64    `yaml:"size,omitempty"`
}

// RepoContext is everything known about the repository and the page the
// user is on.
type RepoContext struct {
	Owner         string            `yaml:"owner"`
	Repo          string            `yaml:"repo"`
	Description   string            `yaml:"description"`
	Language      string            `yaml:"language"`
	Stars         int               `yaml:"stars"`
	DefaultBranch string            `yaml:"default_branch,omitempty"`
	PageType      PageType          `yaml:"page_type"`
	Path          string            `yaml:"path,omitempty"`
	Readme        string            `yaml:"readme,omitempty"`
	Tree          []TreeNode        `yaml:"tree,omitempty"`
	Files         map[string]string `yaml:"files,omitempty"`
}

// Load reads a RepoContext from a YAML file.
func Load(path string) (RepoContext, error) {
	var rc RepoContext
	data, err := os.ReadFile(path)
	if err != nil {
		return rc, fmt.Errorf("read context file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return rc, fmt.Errorf("parse context file %s: %w", path, err)
	}
	if rc.PageType == "" {
		rc.PageType = PageHome
	}
	return rc, nil
}

// SystemPrompt renders rc as the system message for a chat.
func SystemPrompt(rc RepoContext) string {
	var b strings.Builder

	b.WriteString("You are an expert assistant for GitHub repositories. Help the user understand the code and the project. Keep answers professional and concise.\n")

	b.WriteString("\n## Repository\n")
	fmt.Fprintf(&b, "- **Name**: %s/%s\n", rc.Owner, rc.Repo)
	fmt.Fprintf(&b, "- **Description**: %s\n", orDefault(rc.Description, "No description"))
	fmt.Fprintf(&b, "- **Primary language**: %s\n", orDefault(rc.Language, "Unknown"))
	fmt.Fprintf(&b, "- **Stars**: %d\n", rc.Stars)

	b.WriteString("\n## Current location\n")
	fmt.Fprintf(&b, "- **Page type**: %s\n", rc.PageType.label())
	if rc.Path != "" {
		fmt.Fprintf(&b, "- **Path**: %s\n", rc.Path)
	}

	b.WriteString("\n## File tree\n```\n")
	b.WriteString(formatTree(rc.Tree, maxTreeEntries))
	b.WriteString("\n```\n")

	if rc.Readme != "" {
		b.WriteString("\n## README\n")
		b.WriteString(truncate(rc.Readme, maxReadmeChars, "README truncated"))
		b.WriteString("\n")
	}

	if rc.PageType == PageBlob && rc.Path != "" {
		if content, ok := rc.Files[rc.Path]; ok {
			fmt.Fprintf(&b, "\n## Current file (%s)\n```\n", rc.Path)
			b.WriteString(truncate(content, maxFileChars, "file truncated"))
			b.WriteString("\n```\n")
		}
	}

	if rc.PageType == PageTree && rc.Path != "" {
		if entries := directChildren(rc.Tree, rc.Path); len(entries) > 0 {
			fmt.Fprintf(&b, "\n## Current directory (%s)\n", rc.Path)
			for _, n := range entries {
				name := n.Path[strings.LastIndex(n.Path, "/")+1:]
				fmt.Fprintf(&b, "- %s %s\n", icon(n.Type), name)
			}
		}
	}

	b.WriteString(`
## Guidelines
1. Answer using the repository information above.
2. If another file is needed to answer accurately, name its path.
3. When explaining code, cite specific files and line numbers.
4. Say so when you are unsure.
5. Keep answers short and avoid repetition.
`)

	return b.String()
}

// formatTree lists directories first, then files, each group by path, and
// stops after limit entries.
func formatTree(nodes []TreeNode, limit int) string {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, func(a, b TreeNode) int {
		if a.Type != b.Type {
			if a.Type == NodeTree {
				return -1
			}
			if b.Type == NodeTree {
				return 1
			}
		}
		return cmp.Compare(a.Path, b.Path)
	})

	lines := make([]string, 0, min(len(sorted), limit)+1)
	for _, n := range sorted[:min(len(sorted), limit)] {
		lines = append(lines, icon(n.Type)+" "+n.Path)
	}
	if extra := len(sorted) - limit; extra > 0 {
		lines = append(lines, fmt.Sprintf("... %d more entries", extra))
	}
	return strings.Join(lines, "\n")
}

func directChildren(nodes []TreeNode, dir string) []TreeNode {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []TreeNode
	for _, n := range nodes {
		rest, ok := strings.CutPrefix(n.Path, prefix)
		if ok && rest != "" && !strings.Contains(rest, "/") {
			out = append(out, n)
		}
	}
	return out
}

func icon(t NodeType) string {
	if t == NodeTree {
		return "📁"
	}
	return "📄"
}

// truncate cuts s to limit characters and appends a marker when it did.
func truncate(s string, limit int, marker string) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "\n\n... (" + marker + ")"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
