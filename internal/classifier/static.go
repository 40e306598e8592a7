package classifier

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// Blocklist is the on-disk format of the static classifier.
//
//	domains:
//	  - evil.example        # host and every subdomain
//	patterns:
//	  - "https://*/wp-admin/*paypal*"
type Blocklist struct {
	Domains  []string `yaml:"domains"`
	Patterns []string `yaml:"patterns"`
}

// LoadBlocklist reads and validates a YAML blocklist file.
func LoadBlocklist(path string) (*Blocklist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	var list Blocklist
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	for i, d := range list.Domains {
		if normalizeDomain(d) == "" {
			return nil, fmt.Errorf("blocklist: domains[%d] is empty", i)
		}
	}
	for i, p := range list.Patterns {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("blocklist: patterns[%d] is empty", i)
		}
	}
	return &list, nil
}

type pattern struct {
	raw string
	g   glob.Glob
}

// Static is the hard-coded list variant: a synchronous set-membership check
// behind the same contract as the remote classifier.
type Static struct {
	domains  []string
	patterns []pattern
}

func NewStatic(list Blocklist) (*Static, error) {
	s := &Static{}
	for _, d := range list.Domains {
		if d = normalizeDomain(d); d != "" {
			s.domains = append(s.domains, d)
		}
	}
	for _, p := range list.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("blocklist: compile pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, pattern{raw: p, g: g})
	}
	return s, nil
}

func (s *Static) Classify(_ context.Context, target string) (Verdict, error) {
	u, err := url.Parse(target)
	if err != nil {
		return Verdict{}, newError(CodeMalformed, "parse url", err)
	}
	host := strings.ToLower(u.Hostname())

	for _, d := range s.domains {
		if matchDomain(host, d) {
			return Verdict{Malicious: true, Label: "malicious", Rule: "domain:" + d}, nil
		}
	}
	for _, p := range s.patterns {
		if p.g.Match(target) {
			return Verdict{Malicious: true, Label: "malicious", Rule: "pattern:" + p.raw}, nil
		}
	}
	return Verdict{Label: "benign"}, nil
}

// Len returns the number of rules loaded.
func (s *Static) Len() int {
	return len(s.domains) + len(s.patterns)
}

// normalizeDomain brings a blocklist entry to the form hosts take in
// normalized URLs: lower-case ASCII, IDN labels in punycode.
func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "*.")
	d = strings.Trim(d, ".")
	if d == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		return ascii
	}
	return d
}

// matchDomain matches host against domain and its subdomains.
func matchDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
