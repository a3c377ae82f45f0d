package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/secstate/internal/domain/repository"
	"github.com/turtacn/secstate/pkg/constants"
	secerrors "github.com/turtacn/secstate/pkg/errors"
	"github.com/turtacn/secstate/pkg/logger"
)

// directiveOrder is the canonical serialization order. Directives outside it
// follow in lexical order.
var directiveOrder = []string{
	"default-src",
	"script-src",
	"script-src-elem",
	"script-src-attr",
	"style-src",
	"style-src-elem",
	"style-src-attr",
	"img-src",
	"font-src",
	"connect-src",
	"frame-src",
	"child-src",
	"media-src",
	"object-src",
	"manifest-src",
	"worker-src",
	"base-uri",
	"form-action",
	"frame-ancestors",
	"sandbox",
	"report-uri",
	"report-to",
	"require-trusted-types-for",
	"trusted-types",
	"upgrade-insecure-requests",
	"block-all-mixed-content",
}

type directiveKind int

const (
	kindSourceList directiveKind = iota
	kindSandbox
	kindReportURI
	kindToken
	kindTrustedTypesFor
	kindNoValue
)

var directiveKinds = buildDirectiveKinds()

func buildDirectiveKinds() map[string]directiveKind {
	kinds := make(map[string]directiveKind, len(directiveOrder)+1)
	for _, d := range directiveOrder {
		kinds[d] = kindSourceList
	}
	kinds["prefetch-src"] = kindSourceList
	kinds["sandbox"] = kindSandbox
	kinds["report-uri"] = kindReportURI
	kinds["report-to"] = kindToken
	kinds["trusted-types"] = kindToken
	kinds["require-trusted-types-for"] = kindTrustedTypesFor
	kinds["upgrade-insecure-requests"] = kindNoValue
	kinds["block-all-mixed-content"] = kindNoValue
	return kinds
}

var directiveRank = func() map[string]int {
	rank := make(map[string]int, len(directiveOrder))
	for i, d := range directiveOrder {
		rank[d] = i
	}
	return rank
}()

var cspKeywords = map[string]bool{
	"'self'":             true,
	"'none'":             true,
	"'unsafe-inline'":    true,
	"'unsafe-eval'":      true,
	"'strict-dynamic'":   true,
	"'unsafe-hashes'":    true,
	"'report-sample'":    true,
	"'wasm-unsafe-eval'": true,
}

var (
	nonceSourcePattern  = regexp.MustCompile(`^'nonce-[A-Za-z0-9+/_\-]+={0,2}'$`)
	hashSourcePattern   = regexp.MustCompile(`^'sha(?:256|384|512)-[A-Za-z0-9+/_\-]+={0,2}'$`)
	schemeSourcePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:$`)
	hostSourcePattern   = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+.\-]*://)?(?:\*|(?:\*\.)?[a-zA-Z0-9\-]+(?:\.[a-zA-Z0-9\-]+)*)(?::(?:\d{1,5}|\*))?(?:/[^\s;,]*)?$`)
	tokenPattern        = regexp.MustCompile(`^[A-Za-z0-9\-_#=.]+$`)
	sandboxTokenPattern = regexp.MustCompile(`^allow-[a-z\-]+$`)
)

// CSPPolicy is the shared directive -> ordered source set map. Writes replace
// a directive wholesale; the last writer wins.
type CSPPolicy struct {
	mu         sync.RWMutex
	directives map[string][]string
	store      repository.KVStore
	logger     logger.Logger
}

// CSPOption customizes a CSPPolicy.
type CSPOption func(*CSPPolicy)

// WithCSPStore persists the directive map under constants.StoreKeyCSPPolicy after every change.
func WithCSPStore(store repository.KVStore) CSPOption {
	return func(p *CSPPolicy) { p.store = store }
}

// WithCSPDirectives seeds the policy. Invalid entries are skipped and logged.
func WithCSPDirectives(directives map[string][]string) CSPOption {
	return func(p *CSPPolicy) {
		for dir, sources := range directives {
			dir = normalizeDirective(dir)
			if err := validateDirective(dir, sources); err != nil {
				p.logger.Warn(context.Background(), "skipping invalid CSP directive", logger.Fields{"directive": dir, "error": err.Error()})
				continue
			}
			p.directives[dir] = dedupeSources(sources)
		}
	}
}

// NewCSPPolicy creates an empty policy unless seeded through options.
func NewCSPPolicy(log logger.Logger, opts ...CSPOption) *CSPPolicy {
	p := &CSPPolicy{
		directives: make(map[string][]string),
		logger:     log.WithComponent("CSPPolicy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load replaces the in-memory directives with the persisted ones, if any.
func (p *CSPPolicy) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	raw, err := p.store.Get(ctx, constants.StoreKeyCSPPolicy)
	if errors.Is(err, repository.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return secerrors.ErrStorage("get", err)
	}

	var directives map[string][]string
	if err := json.Unmarshal([]byte(raw), &directives); err != nil {
		return secerrors.ErrDecode("csp policy", err)
	}
	return p.Replace(ctx, directives)
}

// AddPolicy creates or replaces the source set of directive.
func (p *CSPPolicy) AddPolicy(ctx context.Context, directive string, sources []string) error {
	directive = normalizeDirective(directive)
	if err := validateDirective(directive, sources); err != nil {
		return err
	}

	p.mu.Lock()
	p.directives[directive] = dedupeSources(sources)
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return nil
}

// RemovePolicy deletes directive and reports whether it was present.
func (p *CSPPolicy) RemovePolicy(ctx context.Context, directive string) bool {
	directive = normalizeDirective(directive)

	p.mu.Lock()
	if _, ok := p.directives[directive]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.directives, directive)
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return true
}

// Replace swaps the whole directive map. Nothing changes if any entry is invalid.
func (p *CSPPolicy) Replace(ctx context.Context, directives map[string][]string) error {
	next := make(map[string][]string, len(directives))
	for dir, sources := range directives {
		dir = normalizeDirective(dir)
		if err := validateDirective(dir, sources); err != nil {
			return err
		}
		next[dir] = dedupeSources(sources)
	}

	p.mu.Lock()
	p.directives = next
	snapshot := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, snapshot)
	return nil
}

// Directives returns a copy of the current directive map.
func (p *CSPPolicy) Directives() map[string][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// PolicyString serializes the policy as a Content-Security-Policy header value.
func (p *CSPPolicy) PolicyString() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.directives))
	for dir := range p.directives {
		names = append(names, dir)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iKnown := directiveRank[names[i]]
		rj, jKnown := directiveRank[names[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return names[i] < names[j]
		}
	})

	parts := make([]string, 0, len(names))
	for _, dir := range names {
		sources := p.directives[dir]
		if len(sources) == 0 {
			parts = append(parts, dir)
			continue
		}
		parts = append(parts, dir+" "+strings.Join(sources, " "))
	}
	return strings.Join(parts, "; ")
}

// ValidatePolicy reports whether policy only uses recognized directives with
// well-formed values.
func ValidatePolicy(policy string) bool {
	if strings.TrimSpace(policy) == "" {
		return false
	}

	seen := make(map[string]bool)
	for _, clause := range strings.Split(policy, ";") {
		fields := strings.Fields(clause)
		if len(fields) == 0 {
			continue
		}
		dir := strings.ToLower(fields[0])
		if seen[dir] {
			return false
		}
		seen[dir] = true
		if validateDirective(dir, fields[1:]) != nil {
			return false
		}
	}
	return len(seen) > 0
}

// ValidatePolicy is the method form of the package-level ValidatePolicy.
func (p *CSPPolicy) ValidatePolicy(policy string) bool {
	return ValidatePolicy(policy)
}

func (p *CSPPolicy) snapshotLocked() map[string][]string {
	out := make(map[string][]string, len(p.directives))
	for dir, sources := range p.directives {
		out[dir] = append([]string(nil), sources...)
	}
	return out
}

func (p *CSPPolicy) persist(ctx context.Context, snapshot map[string][]string) {
	if p.store == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err == nil {
		err = p.store.Set(ctx, constants.StoreKeyCSPPolicy, string(raw))
	}
	if err != nil {
		p.logger.Error(ctx, "failed to persist CSP policy", err)
	}
}

func normalizeDirective(directive string) string {
	return strings.ToLower(strings.TrimSpace(directive))
}

func validateDirective(directive string, values []string) error {
	kind, ok := directiveKinds[directive]
	if !ok {
		return secerrors.ErrInvalidRequest("unknown CSP directive: " + directive)
	}

	switch kind {
	case kindNoValue:
		if len(values) > 0 {
			return secerrors.ErrInvalidRequest(directive + " takes no value")
		}
		return nil
	case kindReportURI:
		if len(values) == 0 {
			return secerrors.ErrInvalidRequest(directive + " requires a URI")
		}
	case kindTrustedTypesFor:
		if len(values) == 0 {
			return secerrors.ErrInvalidRequest(directive + " requires 'script'")
		}
	case kindToken:
		if directive == "report-to" && len(values) != 1 {
			return secerrors.ErrInvalidRequest(directive + " takes exactly one group name")
		}
	}

	for _, v := range values {
		if !validDirectiveValue(kind, v) {
			return secerrors.ErrInvalidRequest("invalid value for " + directive + ": " + v)
		}
	}
	return nil
}

func validDirectiveValue(kind directiveKind, v string) bool {
	switch kind {
	case kindSandbox:
		return sandboxTokenPattern.MatchString(v)
	case kindReportURI:
		return hostSourcePattern.MatchString(v) || strings.HasPrefix(v, "/")
	case kindToken:
		return v == "'none'" || v == "'allow-duplicates'" || v == "*" || tokenPattern.MatchString(v)
	case kindTrustedTypesFor:
		return v == "'script'"
	default:
		return validSource(v)
	}
}

func validSource(src string) bool {
	lower := strings.ToLower(src)
	if cspKeywords[lower] {
		return true
	}
	if strings.HasPrefix(src, "'") {
		return nonceSourcePattern.MatchString(src) || hashSourcePattern.MatchString(src)
	}
	return schemeSourcePattern.MatchString(src) || hostSourcePattern.MatchString(src)
}

func dedupeSources(sources []string) []string {
	seen := make(map[string]bool, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
