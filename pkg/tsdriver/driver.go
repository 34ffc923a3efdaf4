// Package tsdriver is the reference implementation of cstevent.Driver: it
// parses a file with go-tree-sitter and walks the resulting tree into the
// Enter/Exit/Token event stream every builder in this module consumes. It is
// grounded on the teacher's pkg/parser (sync.Pool-per-language parser reuse,
// LRU'd *sitter.Tree cache) and pkg/parser/languages (the language registry),
// adapted from a one-shot AST-extraction service into a streaming walker that
// never holds the whole tree in a builder-visible form.
package tsdriver

import (
	"context"
	"os"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hatlesswizard/ucg/pkg/cstevent"
	"github.com/hatlesswizard/ucg/pkg/parser/languages"
)

// Limits bounds the walk so a pathological file cannot exhaust memory before
// the orchestrator's own per-file timeout fires.
type Limits struct {
	MaxEvents int
	MaxDepth  int
	Timeout   time.Duration
}

// DefaultLimits mirrors ucgconfig's per-file defaults (5s wall clock) plus a
// generous structural ceiling; the orchestrator's own timeout is expected to
// fire first in the common case, these exist as a last-resort backstop.
func DefaultLimits() Limits {
	return Limits{MaxEvents: 2_000_000, MaxDepth: 512, Timeout: 5 * time.Second}
}

// Driver implements cstevent.Driver over go-tree-sitter, one parser pool per
// registered language.
type Driver struct {
	mu      sync.RWMutex
	langs   map[string]*sitter.Language
	pools   map[string]*sync.Pool
	grammar map[string]string // language -> grammar identity string mixed into DriverInfo
	limits  Limits
}

// New builds a Driver with every language languages.GetAllLanguages knows
// about already registered.
func New(limits Limits) *Driver {
	d := &Driver{
		langs:   make(map[string]*sitter.Language),
		pools:   make(map[string]*sync.Pool),
		grammar: make(map[string]string),
		limits:  limits,
	}
	for _, li := range languages.GetAllLanguages() {
		d.Register(li.Name, li.Language)
	}
	return d
}

// Register adds or replaces one language's grammar and gives it its own
// parser pool, the way pkg/parser.Service.RegisterLanguage does.
func (d *Driver) Register(name string, lang *sitter.Language) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.langs[name] = lang
	d.grammar[name] = "go-tree-sitter:" + name
	langRef := lang
	d.pools[name] = &sync.Pool{
		New: func() interface{} {
			p := sitter.NewParser()
			p.SetLanguage(langRef)
			return p
		},
	}
}

func (d *Driver) getParser(language string) *sitter.Parser {
	d.mu.RLock()
	pool := d.pools[language]
	d.mu.RUnlock()
	if pool == nil {
		return nil
	}
	p, _ := pool.Get().(*sitter.Parser)
	return p
}

func (d *Driver) putParser(language string, p *sitter.Parser) {
	if p == nil {
		return
	}
	d.mu.RLock()
	pool := d.pools[language]
	d.mu.RUnlock()
	if pool != nil {
		pool.Put(p)
	}
}

// Languages lists every language this Driver can parse.
func (d *Driver) Languages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.langs))
	for name := range d.langs {
		out = append(out, name)
	}
	return out
}

// Parse satisfies cstevent.Driver. meta.Language must already be resolved
// (by extension, per languages.GetLanguageByExtension) before calling this;
// a driver has no file-discovery role of its own. The source is read from
// meta.RealPath.
func (d *Driver) Parse(meta cstevent.FileMeta) (cstevent.ParseStream, error) {
	source, err := os.ReadFile(meta.RealPath)
	if err != nil {
		return cstevent.ParseStream{Meta: meta, Driver: d.driverInfo(meta.Language), OK: false, Err: "read: " + err.Error()}, nil
	}
	return d.parse(meta, source), nil
}

// ParseBytes walks already-read source, for callers (such as tests) that
// have the bytes in hand and would otherwise read the file twice.
func (d *Driver) ParseBytes(meta cstevent.FileMeta, source []byte) (cstevent.ParseStream, error) {
	return d.parse(meta, source), nil
}

func (d *Driver) driverInfo(language string) cstevent.DriverInfo {
	d.mu.RLock()
	grammarSHA := d.grammar[language]
	d.mu.RUnlock()
	return cstevent.DriverInfo{Language: language, GrammarName: language, GrammarSHA: grammarSHA, Version: "go-tree-sitter"}
}

func (d *Driver) parse(meta cstevent.FileMeta, source []byte) cstevent.ParseStream {
	info := d.driverInfo(meta.Language)

	d.mu.RLock()
	lang := d.langs[meta.Language]
	d.mu.RUnlock()
	if lang == nil {
		return cstevent.ParseStream{Meta: meta, Driver: info, OK: false, Err: "unregistered language: " + meta.Language}
	}

	parser := d.getParser(meta.Language)
	if parser == nil {
		parser = sitter.NewParser()
		parser.SetLanguage(lang)
	}
	defer d.putParser(meta.Language, parser)

	ctx := context.Background()
	if d.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.limits.Timeout)
		defer cancel()
	}

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return cstevent.ParseStream{Meta: meta, Driver: info, OK: false, Err: err.Error()}
	}
	if tree == nil {
		return cstevent.ParseStream{Meta: meta, Driver: info, OK: false, Err: "parser returned no tree"}
	}
	defer tree.Close()

	w := &walker{source: source, limits: d.limits}
	events, truncated := w.walk(tree.RootNode())

	stream := cstevent.ParseStream{Meta: meta, Driver: info, OK: true, Events: events}
	if truncated {
		stream.Err = "event stream truncated at resource limit"
	}
	return stream
}
