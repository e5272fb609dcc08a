package orchestrator

import (
	"archive/zip"
	"io"
	"regexp"
	"strings"

	"sitecrew/cli/internal/workflow"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// BundleName is the download file name for a project archive.
func BundleName(p workflow.Project) string {
	name := strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(p.Title), "-"), "-")
	if name == "" {
		name = "website"
	}
	return name + ".zip"
}

// WriteBundle writes the generated files and the PRD as a zip archive.
func WriteBundle(w io.Writer, p workflow.Project) error {
	zw := zip.NewWriter(w)
	for _, f := range p.Files {
		if !workflow.ValidFileName(f.Name) {
			continue
		}
		fw, err := zw.Create(f.Name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(fw, f.Content); err != nil {
			return err
		}
	}
	if strings.TrimSpace(p.PRD) != "" {
		if _, exists := p.File(workflow.PRDFileName); !exists {
			fw, err := zw.Create(workflow.PRDFileName)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(fw, p.PRD); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}
