package router

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SessionRef is session identity recovered from a status card's rendered text.
type SessionRef struct {
	ResumeToken string
	ProjectName string
}

var (
	resumeRe = regexp.MustCompile(`(?i)--resume[= ]+([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)
	ctxRe    = regexp.MustCompile(`(?im)^\s*(?:ctx|context):\s*(.+?)\s*$`)
	headerRe = regexp.MustCompile(`(?m)^\s*(?:[^\s\w]+\s*)?(.+?)\s+—`)
)

// ExtractSessionRef parses a resume token and project-name hint from the text
// of an old status message the registry no longer indexes. The token comes
// from an invocation hint ("claude --resume <uuid>") embedded in the help
// text; the project from an explicit "ctx:" marker, or failing that the
// status-header line ("🟢 my-project — running").
func ExtractSessionRef(text string) (SessionRef, bool) {
	var ref SessionRef

	m := resumeRe.FindStringSubmatch(text)
	if m == nil {
		return ref, false
	}
	if _, err := uuid.Parse(m[1]); err != nil {
		return ref, false
	}
	ref.ResumeToken = strings.ToLower(m[1])

	if cm := ctxRe.FindStringSubmatch(text); cm != nil {
		ref.ProjectName = cm[1]
	} else if hm := headerRe.FindStringSubmatch(text); hm != nil {
		ref.ProjectName = strings.TrimSpace(hm[1])
	}

	return ref, true
}
