package jobstore

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// imageRank orders artifact extensions by how useful they are as the primary
// preview of a finished render.
var imageRank = map[string]int{
	".png":  0,
	".exr":  1,
	".jpg":  2,
	".jpeg": 2,
	".tif":  3,
	".tiff": 3,
}

// PrimaryArtifact picks the manifest entry best suited as the job's headline
// result: the highest-ranked image under renders/, falling back to the first
// artifact. Empty when the manifest has none.
func (m *Manifest) PrimaryArtifact() string {
	best := ""
	bestRank := len(imageRank) + 1
	for _, a := range m.Artifacts {
		rank, ok := imageRank[strings.ToLower(path.Ext(a.Name))]
		if ok && rank < bestRank {
			best = a.Name
			bestRank = rank
		}
	}
	if best == "" && len(m.Artifacts) > 0 {
		best = m.Artifacts[0].Name
	}
	return best
}

// maxLogHighlights caps how many flagged lines are surfaced from a render
// log.
const maxLogHighlights = 20

var highlightMarkers = []string{
	"error",
	"warning",
	"failed",
	"traceback",
	"out of memory",
}

// LogHighlights scans a job's render log for lines worth surfacing in an
// overview (errors, warnings, crashes). A missing log yields no highlights.
func (s *Store) LogHighlights(job *Job) ([]string, error) {
	f, err := os.Open(s.LogPath(job))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var highlights []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && len(highlights) < maxLogHighlights {
		line := scanner.Text()
		lower := strings.ToLower(line)
		for _, marker := range highlightMarkers {
			if strings.Contains(lower, marker) {
				highlights = append(highlights, strings.TrimSpace(line))
				break
			}
		}
	}
	return highlights, scanner.Err()
}
