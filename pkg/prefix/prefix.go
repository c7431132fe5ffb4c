// Package prefix holds the ordered old/new path prefix rules applied to
// strings found in debug and coverage data.
package prefix

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// A Rule replaces Old with New at the start of a string. Matching is a
// literal byte prefix test.
type Rule struct {
	Old string
	New string
}

// Delta is the change in length of a string rewritten by the rule.
func (r Rule) Delta() int { return len(r.New) - len(r.Old) }

// Rules is an ordered rule list. The first matching rule wins.
type Rules []Rule

// Match returns the first rule whose Old prefix starts s.
func (rs Rules) Match(s string) (Rule, bool) {
	for _, r := range rs {
		if strings.HasPrefix(s, r.Old) {
			return r, true
		}
	}
	return Rule{}, false
}

// Replace rewrites s with the first matching rule.
func (rs Rules) Replace(s string) (string, bool) {
	r, ok := rs.Match(s)
	if !ok {
		return s, false
	}
	return r.New + s[len(r.Old):], true
}

// ReplaceBytes is Replace for byte slices. The result never aliases b
// when a rule matched.
func (rs Rules) ReplaceBytes(b []byte) ([]byte, bool) {
	for _, r := range rs {
		if len(b) >= len(r.Old) && string(b[:len(r.Old)]) == r.Old {
			out := make([]byte, 0, len(r.New)+len(b)-len(r.Old))
			out = append(out, r.New...)
			return append(out, b[len(r.Old):]...), true
		}
	}
	return b, false
}

// NeverGrows reports whether no rule makes a string longer.
func (rs Rules) NeverGrows() bool {
	for _, r := range rs {
		if r.Delta() > 0 {
			return false
		}
	}
	return true
}

// Validate rejects rule lists that cannot match anything useful.
func (rs Rules) Validate() error {
	if len(rs) == 0 {
		return errors.New("no prefix rules given")
	}
	for i, r := range rs {
		if r.Old == "" {
			return errors.Errorf("rule %d has an empty old prefix", i+1)
		}
	}
	return nil
}

// ParseMap reads sed-style rules, one per line, in the form ",old,new,".
// The first character of each line is the delimiter. Lines of three
// characters or fewer are skipped. Order is preserved.
func ParseMap(r io.Reader) (Rules, error) {
	var rules Rules
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if len(line) <= 3 {
			continue
		}
		fields := strings.Split(line[1:], line[:1])
		if len(fields) < 2 {
			return nil, errors.Errorf("line %d: invalid format: use sed-style ,needle,new_needle,", lineno)
		}
		if len(fields) == 2 {
			log.Debugf("prefix map line %d has no trailing delimiter", lineno)
		}
		rules = append(rules, Rule{Old: fields[0], New: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read prefix map")
	}
	return rules, nil
}

// ParseMapFile reads a prefix map from path.
func ParseMapFile(path string) (Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open prefix map %s", path)
	}
	defer f.Close()
	return ParseMap(f)
}
