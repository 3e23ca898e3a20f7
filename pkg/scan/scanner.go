// Package scan finds credentials that are about to be committed: PEM
// blocks, cloud API keys, and high-entropy secret assignments, in staged
// git diffs or on disk.
package scan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// allowMarker suppresses findings on the line carrying it.
const allowMarker = "clinops:allow"

// Finding is one suspicious line. Excerpt is redacted.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Excerpt     string `json:"excerpt"`
}

// Report wraps a scan's findings for --format json output.
type Report struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Findings  []Finding `json:"findings"`
}

// NewReport stamps findings with a report ID.
func NewReport(findings []Finding) *Report {
	return &Report{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Findings:  findings,
	}
}

// Scanner applies the detection rules with an allowlist on top.
type Scanner struct {
	rules []Rule
	allow []*regexp.Regexp
	log   *slog.Logger
}

// NewScanner builds a Scanner. allowPatterns are regular expressions from
// config; a line matching any of them is never reported.
func NewScanner(allowPatterns []string, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{rules: defaultRules, log: logger}
	for _, p := range allowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("scan: invalid allow pattern %q: %w", p, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

func (s *Scanner) allowed(line string) bool {
	if strings.Contains(line, allowMarker) {
		return true
	}
	for _, re := range s.allow {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (s *Scanner) checkLine(file string, lineNo int, line string) []Finding {
	if s.allowed(line) {
		return nil
	}
	var findings []Finding
	for i := range s.rules {
		rule := &s.rules[i]
		if rule.match(line) {
			findings = append(findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				File:        file,
				Line:        lineNo,
				Excerpt:     redact(line),
			})
		}
	}
	return findings
}

// ScanReader scans r line by line, attributing findings to name.
func (s *Scanner) ScanReader(name string, r io.Reader) ([]Finding, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var findings []Finding
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		findings = append(findings, s.checkLine(name, lineNo, scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: reading %s: %w", name, err)
	}
	return findings, nil
}

// ScanPath scans a file, or walks a directory skipping .git, node_modules,
// and binary-looking files.
func (s *Scanner) ScanPath(root string) ([]Finding, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if !info.IsDir() {
		return s.scanFile(root)
	}

	var findings []Finding
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor":
				return filepath.SkipDir
			}
			return nil
		}
		fileFindings, err := s.scanFile(path)
		if err != nil {
			return err
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func (s *Scanner) scanFile(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if bytes.ContainsRune(head[:n], 0) {
		// Binary file.
		return nil, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return s.ScanReader(path, f)
}

// ScanStaged scans the lines being added by the staged git diff, so only
// new credentials block a commit, not historical ones.
func (s *Scanner) ScanStaged(ctx context.Context) ([]Finding, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--unified=0", "--no-color")
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("scan: git diff failed: exit code %d, stderr: %s",
				exitErr.ExitCode(), exitErr.Stderr)
		}
		return nil, fmt.Errorf("scan: git diff failed: %w", err)
	}
	return s.scanDiff(bytes.NewReader(output))
}

var hunkRegex = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// scanDiff walks unified diff output, scanning only added lines and
// attributing them to their post-image file and line number.
func (s *Scanner) scanDiff(r io.Reader) ([]Finding, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var findings []Finding
	file := ""
	lineNo := 0
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			file = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "+++ "):
			file = "" // deleted file or /dev/null
		case strings.HasPrefix(line, "@@"):
			if m := hunkRegex.FindStringSubmatch(line); m != nil {
				lineNo, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(line, "+") && file != "":
			findings = append(findings, s.checkLine(file, lineNo, line[1:])...)
			lineNo++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: reading diff: %w", err)
	}
	return findings, nil
}
