// Package gitnotes persists epistemic artifacts and agent messages as git
// notes under refs/notes/empirica/. The ref name is the stable public id;
// the blob content is the single source of truth.
package gitnotes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/empirica-ai/empirica/internal/config"
	"github.com/empirica-ai/empirica/internal/model"
)

const refPrefix = "refs/notes/empirica/"

// Known namespaces under refs/notes/empirica/.
const (
	NamespaceFindings   = "findings"
	NamespaceUnknowns   = "unknowns"
	NamespaceDeadEnds   = "dead_ends"
	NamespaceMistakes   = "mistakes"
	NamespaceGoals      = "goals"
	NamespaceTasks      = "tasks"
	NamespaceHandoff    = "handoff"
	NamespaceSignatures = "signatures"
	NamespaceMessages   = "messages"
	NamespaceSession    = "session"
	NamespaceCascades   = "cascades"
)

// Store reads and writes empirica notes with plain git plumbing.
type Store struct {
	dir          string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a store over the repository at cfg.GitDir.
func New(cfg config.Config, logger *slog.Logger) *Store {
	readTimeout := cfg.GitReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.GitWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	return &Store{
		dir:          cfg.GitDir,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Store) git(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = s.dir
	out, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("gitnotes: git %s: %w", args[0], model.ErrTimeout)
	}
	if err != nil {
		return "", fmt.Errorf("gitnotes: git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// noteRef builds the --ref argument for a namespaced note.
func noteRef(parts ...string) string {
	return "empirica/" + strings.Join(parts, "/")
}

// Put attaches payload as a note on HEAD under the given ref parts,
// overwriting any previous note.
func (s *Store) Put(ctx context.Context, payload string, refParts ...string) error {
	_, err := s.git(ctx, s.writeTimeout, "notes", "--ref="+noteRef(refParts...), "add", "-f", "-m", payload, "HEAD")
	return err
}

// Get reads the note under the given ref parts by walking
// ref → commit → tree → first blob. Empty string when the ref is absent.
func (s *Store) Get(ctx context.Context, refParts ...string) (string, error) {
	ref := refPrefix + strings.Join(refParts, "/")

	commit, err := s.git(ctx, s.readTimeout, "cat-file", "-p", ref)
	if err != nil {
		if strings.Contains(err.Error(), "Not a valid object name") ||
			strings.Contains(err.Error(), "invalid object name") ||
			strings.Contains(err.Error(), "could not get object info") {
			return "", nil
		}
		return "", err
	}

	treeSHA := ""
	for _, line := range strings.Split(commit, "\n") {
		if strings.HasPrefix(line, "tree ") {
			treeSHA = strings.TrimPrefix(line, "tree ")
			break
		}
	}
	if treeSHA == "" {
		return "", fmt.Errorf("gitnotes: ref %s: no tree in commit", ref)
	}

	tree, err := s.git(ctx, s.readTimeout, "cat-file", "-p", treeSHA)
	if err != nil {
		return "", err
	}
	blobSHA := ""
	for _, line := range strings.Split(tree, "\n") {
		// "<mode> blob <sha>\t<path>"
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[1] == "blob" {
			blobSHA = fields[2]
			break
		}
	}
	if blobSHA == "" {
		return "", fmt.Errorf("gitnotes: ref %s: no blob in tree", ref)
	}

	return s.git(ctx, s.readTimeout, "cat-file", "-p", blobSHA)
}

// ListRefs returns the full ref names under a namespace.
func (s *Store) ListRefs(ctx context.Context, namespace string) ([]string, error) {
	out, err := s.git(ctx, s.readTimeout,
		"for-each-ref", "--format=%(refname)", refPrefix+namespace+"/")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func marshalNote(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("gitnotes: encode: %w", err)
	}
	return string(b), nil
}

// PutFinding stores a finding content-addressed by its hash.
func (s *Store) PutFinding(ctx context.Context, f model.Finding) error {
	payload, err := marshalNote(f)
	if err != nil {
		return err
	}
	return s.Put(ctx, payload, NamespaceFindings, f.Hash())
}

// Findings returns every finding note in the repository.
func (s *Store) Findings(ctx context.Context) ([]model.Finding, error) {
	refs, err := s.ListRefs(ctx, NamespaceFindings)
	if err != nil {
		return nil, err
	}
	var out []model.Finding
	for _, ref := range refs {
		raw, err := s.Get(ctx, strings.TrimPrefix(ref, refPrefix))
		if err != nil || raw == "" {
			if err != nil {
				s.logger.Warn("finding note unreadable", "ref", ref, "error", err)
			}
			continue
		}
		var f model.Finding
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			s.logger.Warn("finding note malformed", "ref", ref, "error", err)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// PutGoal stores a goal snapshot for cross-machine handoff.
func (s *Store) PutGoal(ctx context.Context, g model.Goal) error {
	payload, err := marshalNote(g)
	if err != nil {
		return err
	}
	return s.Put(ctx, payload, NamespaceGoals, g.ID)
}

// PutPhaseRecord stores one reflex under session/<id>/<PHASE>/<round>.
func (s *Store) PutPhaseRecord(ctx context.Context, r model.Reflex) error {
	payload, err := marshalNote(r)
	if err != nil {
		return err
	}
	return s.Put(ctx, payload,
		NamespaceSession, r.SessionID, string(r.Phase), fmt.Sprintf("%d", r.Round))
}

// AppendCascade appends one "LABEL: {json}" line to the session's cascade
// log. The log is read-modify-write on a single ref.
func (s *Store) AppendCascade(ctx context.Context, sessionID, transactionID, label string, payload any) error {
	encoded, err := marshalNote(payload)
	if err != nil {
		return err
	}
	refParts := []string{NamespaceCascades, sessionID, transactionID}
	existing, err := s.Get(ctx, refParts...)
	if err != nil {
		return err
	}
	line := label + ": " + encoded
	if existing != "" {
		line = existing + "\n" + line
	}
	return s.Put(ctx, line, refParts...)
}

// ReadCascade returns the parsed (label, payload) lines of a cascade log.
func (s *Store) ReadCascade(ctx context.Context, sessionID, transactionID string) ([]CascadeLine, error) {
	raw, err := s.Get(ctx, NamespaceCascades, sessionID, transactionID)
	if err != nil || raw == "" {
		return nil, err
	}
	var out []CascadeLine
	for _, line := range strings.Split(raw, "\n") {
		label, payload, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		out = append(out, CascadeLine{Label: label, PayloadJSON: payload})
	}
	return out, nil
}

// CascadeLine is one entry of a cascade append log.
type CascadeLine struct {
	Label       string `json:"label"`
	PayloadJSON string `json:"payload_json"`
}
