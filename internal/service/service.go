// Package service implements C5 (§4.5): the orchestrator that owns
// every loaded file's options, scanning, filtering and searching, and
// enforces the multi-binary architecture coherence invariant across
// them. It is the only package that wires the other C-packages
// together, the same role ropper.service.RopperService plays over
// FileContainer/Options/RopperScanner in the original implementation.
package service

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/badbytes"
	"ropsvc/internal/cache"
	"ropsvc/internal/chain"
	"ropsvc/internal/disasm"
	"ropsvc/internal/filecontainer"
	"ropsvc/internal/filter"
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
	"ropsvc/internal/options"
	"ropsvc/internal/progress"
	"ropsvc/internal/render"
	"ropsvc/internal/rerr"
	"ropsvc/internal/scanner"
	"ropsvc/internal/search"
)

// OpenFunc is the external loader collaborator's entry point (§6):
// given raw file bytes and an architecture hint, it returns a loader
// handle. arch may be nil, meaning "detect the file's own format".
type OpenFunc func(name string, data []byte, raw bool, arch archdesc.Architecture) (loader.Loader, error)

// Service is the C5 orchestrator. One Service owns the coherent set of
// loaded files that §3's architecture invariant applies to.
type Service struct {
	mu    sync.Mutex
	files []*filecontainer.Container

	opts *options.Options

	open          OpenFunc
	dis           disasm.Disassembler
	chainProvider chain.Provider
	subs          progress.Subscribers

	render *render.Flags
	cache  *cache.Cache

	sessionHook func(sessionID string)
}

// SetCache attaches a persistent gadget cache (C7). Passing nil
// disables caching; it is disabled by default.
func (s *Service) SetCache(c *cache.Cache) { s.cache = c }

// OnSessionStart registers hook to run synchronously the moment
// LoadGadgets assigns a scan-session ID, before any scanning starts.
// A live progress observer (C8) uses this to tag the events it is
// about to relay with the right session.
func (s *Service) OnSessionStart(hook func(sessionID string)) { s.sessionHook = hook }

// New builds a Service with initial option values (validated the same
// way options.New validates them) and the external collaborators it
// will drive. chainProvider may be nil if ROP chain construction is
// never used; subs fields may be nil individually.
func New(initial map[string]any, open OpenFunc, dis disasm.Disassembler, chainProvider chain.Provider, subs progress.Subscribers) (*Service, error) {
	s := &Service{
		open:          open,
		dis:           dis,
		chainProvider: chainProvider,
		subs:          subs,
		render:        render.New(),
	}
	opts, err := options.New(initial, s.optionChanged)
	if err != nil {
		return nil, err
	}
	s.opts = opts
	return s, nil
}

// Options exposes the C1 registry this service drives.
func (s *Service) Options() *options.Options { return s.opts }

// Render exposes the process-wide colorize/detailed flags this
// service's option-change handler writes to (§9: "pass them
// explicitly to renderers instead of relying on ambient state").
func (s *Service) Render() *render.Flags { return s.render }

// AddFile opens data through the external loader collaborator and
// adds it to the coherent file set. The first file fixes the
// service's architecture; every later file must share it (§3, §4.2).
func (s *Service) AddFile(name string, data []byte, arch archdesc.Architecture, raw bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(name) != nil {
		return &rerr.DuplicateFile{Name: name}
	}

	ld, err := s.open(name, data, raw, arch)
	if err != nil {
		return rerr.WrapLoaderError(err)
	}

	if len(s.files) > 0 {
		existing := s.files[0].Loader().Arch()
		if !archdesc.SameArchitecture(existing, ld.Arch()) {
			return &rerr.ArchitectureMismatch{
				Existing: existing.CanonicalName(),
				Incoming: ld.Arch().CanonicalName(),
			}
		}
	}

	s.files = append(s.files, filecontainer.New(ld))
	return nil
}

// RemoveFile drops name from the file set. Removing an unknown name is
// a no-op, matching ropper.service.RopperService.removeFile.
func (s *Service) RemoveFile(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, fc := range s.files {
		if fc.Name() == name {
			s.files = append(s.files[:i:i], s.files[i+1:]...)
			return
		}
	}
}

// Files returns every loaded file container, in the order AddFile
// added them (§8 testable property 2).
func (s *Service) Files() []*filecontainer.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*filecontainer.Container, len(s.files))
	copy(out, s.files)
	return out
}

// GetFileFor returns the container for name, or nil if no such file
// is loaded (§8 testable property 2).
func (s *Service) GetFileFor(name string) *filecontainer.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(name)
}

func (s *Service) findLocked(name string) *filecontainer.Container {
	for _, fc := range s.files {
		if fc.Name() == name {
			return fc
		}
	}
	return nil
}

// resolveTargets returns the containers name refers to: every loaded
// file when name is empty, or the single matching one otherwise.
func (s *Service) resolveTargets(name string) ([]*filecontainer.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		out := make([]*filecontainer.Container, len(s.files))
		copy(out, s.files)
		return out, nil
	}
	fc := s.findLocked(name)
	if fc == nil {
		return nil, &rerr.MissingFile{Name: name}
	}
	return []*filecontainer.Container{fc}, nil
}

// sharedArch returns the one architecture every currently loaded file
// shares, or nil if no file is loaded.
func (s *Service) sharedArch() archdesc.Architecture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.files) == 0 {
		return nil
	}
	return s.files[0].Loader().Arch()
}

// LoadGadgets scans name (or every loaded file, when name is empty)
// and rebuilds its derived view, fanning the work out one goroutine
// per file (§5: "may be parallelized across files in an
// implementation"). It returns a scan-session ID identifying this
// invocation's progress events, for correlation by a live observer
// such as the websocket event stream.
func (s *Service) LoadGadgets(name string) (string, error) {
	targets, err := s.resolveTargets(name)
	if err != nil {
		return "", err
	}
	if s.dis == nil {
		return "", &rerr.NoDisassembler{}
	}

	sessionID := uuid.NewString()
	if s.sessionHook != nil {
		s.sessionHook(sessionID)
	}
	instCount, err := s.opts.GetInt(options.InstCount)
	if err != nil {
		return sessionID, err
	}
	kindFilter := s.opts.KindFilter()
	badHex, err := s.opts.GetString(options.BadBytes)
	if err != nil {
		return sessionID, err
	}
	all, err := s.opts.GetBool(options.All)
	if err != nil {
		return sessionID, err
	}

	g := new(errgroup.Group)
	for _, fc := range targets {
		fc := fc
		g.Go(func() error {
			raw, fromCache := s.cacheLookup(fc.Loader(), instCount, kindFilter)
			if !fromCache {
				scanned, err := scanner.Scan(fc.Loader(), s.dis, instCount, kindFilter, s.subs.GadgetScan)
				if err != nil {
					return err
				}
				raw = scanned
				s.cacheStore(fc.Loader(), instCount, kindFilter, raw)
			}
			fc.SetRaw(raw)
			derived, err := filter.Prepare(raw, fc.Loader().Arch(), badHex, all, s.subs.Dedup)
			if err != nil {
				return err
			}
			fc.SetDerived(derived)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sessionID, err
	}
	return sessionID, nil
}

// SetImageBaseFor rebases name's loader and, if it was already loaded,
// recomputes its derived view in place — raw gadgets keep the
// addresses they were decoded with relative to, but rebasing shifts
// every absolute address the filter pipeline checks (§4.5).
func (s *Service) SetImageBaseFor(name string, base uint64) error {
	fc := s.GetFileFor(name)
	if fc == nil {
		return &rerr.MissingFile{Name: name}
	}
	fc.Loader().SetImageBase(base)
	if !fc.Loaded() {
		return nil
	}
	return s.rebuildDerived(fc)
}

// SetArchitectureFor changes name's architecture. Per §9 open question
// 1, this is only permitted while name is the only loaded file —
// retargeting one file out of several would silently break the
// coherence invariant for the rest, so it is rejected instead of
// cascading.
func (s *Service) SetArchitectureFor(name string, arch archdesc.Architecture) error {
	s.mu.Lock()
	if len(s.files) > 1 {
		fc := s.findLocked(name)
		s.mu.Unlock()
		if fc == nil {
			return &rerr.MissingFile{Name: name}
		}
		return &rerr.ArchitectureMismatch{
			Existing: fc.Loader().Arch().CanonicalName(),
			Incoming: arch.CanonicalName(),
		}
	}
	fc := s.findLocked(name)
	s.mu.Unlock()
	if fc == nil {
		return &rerr.MissingFile{Name: name}
	}
	fc.Loader().SetArch(arch)
	fc.Invalidate()
	return nil
}

// cacheLookup consults the gadget cache for ld, if one is attached and
// ld exposes a content digest. A miss or absence of either is
// reported as (nil, false) and never as an error — caching is purely
// an optimization over scanner.Scan.
func (s *Service) cacheLookup(ld loader.Loader, instCount int, kindFilter gadget.KindFilter) ([]*gadget.Gadget, bool) {
	if s.cache == nil {
		return nil, false
	}
	digester, ok := ld.(cache.ContentDigester)
	if !ok {
		return nil, false
	}
	key := cache.Key(digester.ContentDigest())
	gadgets, hit, err := s.cache.Get(key, instCount, string(kindFilter))
	if err != nil || !hit {
		return nil, false
	}
	return gadgets, true
}

func (s *Service) cacheStore(ld loader.Loader, instCount int, kindFilter gadget.KindFilter, gadgets []*gadget.Gadget) {
	if s.cache == nil {
		return
	}
	digester, ok := ld.(cache.ContentDigester)
	if !ok {
		return
	}
	key := cache.Key(digester.ContentDigest())
	_ = s.cache.Put(key, instCount, string(kindFilter), gadgets)
}

func (s *Service) rebuildDerived(fc *filecontainer.Container) error {
	badHex, err := s.opts.GetString(options.BadBytes)
	if err != nil {
		return err
	}
	all, err := s.opts.GetBool(options.All)
	if err != nil {
		return err
	}
	derived, err := filter.Prepare(fc.Raw(), fc.Loader().Arch(), badHex, all, s.subs.Dedup)
	if err != nil {
		return err
	}
	fc.SetDerived(derived)
	return nil
}

// optionChanged is options.OnChange for this service (§4.5's
// invalidation table): badbytes/all re-filter every loaded file's
// derived view; color/detailed update the process-wide render flags;
// inst_count/type take effect only on the next explicit load_gadgets.
func (s *Service) optionChanged(key string, old, newVal any) {
	switch key {
	case options.BadBytes, options.All:
		for _, fc := range s.Files() {
			if fc.Loaded() {
				_ = s.rebuildDerived(fc)
			}
		}
	case options.Color:
		s.render.SetColor(newVal.(bool))
	case options.Detailed:
		s.render.SetDetailed(newVal.(bool))
	}
}

// SearchPopPopRet finds every "pop reg; pop reg; ret"-shaped gadget in
// name (or every loaded file), matching
// ropper.service.RopperService.searchPopPopRet.
func (s *Service) SearchPopPopRet(name string) (map[string][]*gadget.Gadget, error) {
	return s.specializedSearch(name, func(ld loader.Loader) ([]*gadget.Gadget, error) {
		candidates, err := scanner.Scan(ld, s.dis, 3, gadget.KindFilter(gadget.KindROP), nil)
		if err != nil {
			return nil, err
		}
		return search.Gadgets(ld.Arch(), candidates, `^pop\s+\S+; pop\s+\S+; ret$`, nil), nil
	})
}

// SearchJmpReg finds every single-instruction "jmp <reg>" gadget whose
// register is one of regs in name (or every loaded file), matching
// RopperService.searchJmpReg(self, regs=['esp'], ...). regs defaults
// to ["esp"] when empty, not to any register.
func (s *Service) SearchJmpReg(name string, regs []string) (map[string][]*gadget.Gadget, error) {
	if len(regs) == 0 {
		regs = []string{"esp"}
	}
	alt := regs[0]
	for _, r := range regs[1:] {
		alt += "|" + r
	}
	pattern := `^jmp\s+(` + alt + `)$`
	return s.specializedSearch(name, func(ld loader.Loader) ([]*gadget.Gadget, error) {
		candidates, err := scanner.Scan(ld, s.dis, 1, gadget.KindFilter(gadget.KindJOP), nil)
		if err != nil {
			return nil, err
		}
		return search.Gadgets(ld.Arch(), candidates, pattern, nil), nil
	})
}

// SearchOpcode finds every occurrence of the literal byte sequence
// opcode inside any executable section of name (or every loaded
// file), disassembling one instruction at each match so the result is
// gadget-shaped, matching RopperService.searchOpcode.
func (s *Service) SearchOpcode(name string, opcode []byte) (map[string][]*gadget.Gadget, error) {
	return s.specializedSearch(name, func(ld loader.Loader) ([]*gadget.Gadget, error) {
		return scanOpcodeOccurrences(ld, s.dis, opcode)
	})
}

// SearchInstructions assembles text for the service's shared
// architecture and runs SearchOpcode against the resulting bytes,
// matching RopperService.searchInstructions.
func (s *Service) SearchInstructions(name, text string) (map[string][]*gadget.Gadget, error) {
	if s.dis == nil {
		return nil, &rerr.NoDisassembler{}
	}
	arch := s.sharedArch()
	if arch == nil {
		return nil, &rerr.MissingFile{Name: name}
	}
	opcode, err := s.dis.Assemble(text, arch, disasm.FormatRaw)
	if err != nil {
		return nil, rerr.WrapDisassemblerError(err)
	}
	return s.SearchOpcode(name, opcode)
}

func (s *Service) specializedSearch(name string, find func(ld loader.Loader) ([]*gadget.Gadget, error)) (map[string][]*gadget.Gadget, error) {
	if s.dis == nil {
		return nil, &rerr.NoDisassembler{}
	}
	targets, err := s.resolveTargets(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*gadget.Gadget, len(targets))
	var pointerWidth int
	for _, fc := range targets {
		gadgets, err := find(fc.Loader())
		if err != nil {
			return nil, err
		}
		out[fc.Name()] = gadgets
		pointerWidth = fc.Loader().Arch().PointerWidth()
	}
	badHex, err := s.opts.GetString(options.BadBytes)
	if err != nil {
		return nil, err
	}
	return filter.ApplyBadBytesMap(out, pointerWidth, badHex)
}

func scanOpcodeOccurrences(ld loader.Loader, dis disasm.Disassembler, opcode []byte) ([]*gadget.Gadget, error) {
	if len(opcode) == 0 {
		return nil, nil
	}
	var out []*gadget.Gadget
	for _, section := range ld.ExecutableSections() {
		data := section.Bytes
		var base uint64
		if ib := ld.ImageBase(); ib != nil {
			base = *ib + section.Offset
		} else {
			base = section.VirtualAddress
		}
		for i := 0; i+len(opcode) <= len(data); i++ {
			if !bytesEqual(data[i:i+len(opcode)], opcode) {
				continue
			}
			addr := base + uint64(i)
			g, err := dis.DisassembleAddress(section, ld, addr, int64(i), 1)
			if err != nil {
				continue
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Search returns a lazy sequence of (file name, gadget) pairs matching
// pattern across name's derived view (or every loaded file's), for
// use with Go's range-over-func: for fname, g := range iter { ... }.
// The sequence is restartable only by calling Search again (§9).
func (s *Service) Search(pattern string, quality *int, name string) (func(yield func(string, *gadget.Gadget) bool), error) {
	targets, err := s.resolveTargets(name)
	if err != nil {
		return nil, err
	}
	iter := func(yield func(string, *gadget.Gadget) bool) {
		for _, fc := range targets {
			arch := fc.Loader().Arch()
			for _, g := range search.Gadgets(arch, fc.Derived(), pattern, quality) {
				if !yield(fc.Name(), g) {
					return
				}
			}
		}
	}
	return iter, nil
}

// SearchString scans name's data sections for pattern, matching
// RopperService.searchString.
func (s *Service) SearchString(name, pattern string) ([]search.StringMatch, error) {
	fc := s.GetFileFor(name)
	if fc == nil {
		return nil, &rerr.MissingFile{Name: name}
	}
	return search.Strings(fc.Loader(), pattern)
}

// DisassembleAt disassembles length instructions of name at address
// (§4.6).
func (s *Service) DisassembleAt(name string, address uint64, length int) (string, error) {
	if s.dis == nil {
		return "", &rerr.NoDisassembler{}
	}
	fc := s.GetFileFor(name)
	if fc == nil {
		return "", &rerr.MissingFile{Name: name}
	}
	return search.DisassembleAt(s.dis, fc.Loader(), address, length)
}

// CreateRopChain assembles chainName for the service's shared
// architecture out of every loaded file's derived gadgets (§4.6,
// §6's out-of-scope "ROP chain generator" collaborator).
func (s *Service) CreateRopChain(chainName string, opts map[string]string) (string, error) {
	if s.chainProvider == nil {
		return "", &rerr.UnsupportedChain{Arch: "unknown", Chain: chainName}
	}
	files := s.Files()
	if len(files) == 0 {
		return "", &rerr.MissingFile{Name: ""}
	}

	loaders := make([]loader.Loader, 0, len(files))
	gadgetsPerLoader := make(map[loader.Loader][]*gadget.Gadget, len(files))
	for _, fc := range files {
		loaders = append(loaders, fc.Loader())
		gadgetsPerLoader[fc.Loader()] = fc.Derived()
	}

	badHex, err := s.opts.GetString(options.BadBytes)
	if err != nil {
		return "", err
	}

	gen, err := s.chainProvider.Get(loaders, gadgetsPerLoader, chainName, chain.MessageFunc(s.subs.ChainMessage), badHex)
	if err != nil {
		return "", errors.Wrap(err, "chain provider")
	}
	if gen == nil {
		return "", &rerr.UnsupportedChain{Arch: loaders[0].Arch().CanonicalName(), Chain: chainName}
	}
	return gen.Create(opts)
}

// DecodeBadBytes exposes the shared hex-decode rule so callers (e.g.
// the CLI) can validate a badbytes value before calling Options.Set.
func DecodeBadBytes(s string) (map[byte]struct{}, error) {
	return badbytes.Decode(s)
}
