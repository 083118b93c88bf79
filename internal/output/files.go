package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type rendering struct {
	ext  string
	body string
}

// WriteFiles writes the SRT and/or TXT rendering of out into dir, naming the
// files after base. format is "srt", "txt" or "both".
func WriteFiles(dir, base string, out *Output, format string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	srt := rendering{".srt", out.SRT}
	txt := rendering{".txt", out.TXT}

	var renders []rendering
	switch format {
	case "srt":
		renders = []rendering{srt}
	case "txt":
		renders = []rendering{txt}
	case "both", "":
		renders = []rendering{srt, txt}
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}

	var written []string
	for _, r := range renders {
		path := filepath.Join(dir, name+r.ext)
		if err := os.WriteFile(path, []byte(r.body), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
