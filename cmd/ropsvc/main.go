// Command ropsvc is an interactive front end for the gadget-discovery
// service: a line-oriented command loop over internal/service, the
// same role cmd/sentra's REPL plays over the language VM in the
// teacher repo — read a line, dispatch on its first word, print a
// result or an error, repeat.
//
// Binary parsing and disassembly are out of scope for this service
// (see internal/loader, internal/disasm): this binary links no
// concrete ELF/PE/Mach-O backend, so "add" fails until one is wired
// in through the openImpl/disImpl variables below.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/cache"
	"ropsvc/internal/disasm"
	"ropsvc/internal/liveserver"
	"ropsvc/internal/loader"
	"ropsvc/internal/options"
	"ropsvc/internal/service"
)

// openImpl and disImpl are the pluggable external collaborators (§6).
// Neither is implemented here — concrete binary/instruction-set
// support lives outside this service's scope. A build that wires one
// in does so by setting these before main runs, e.g. from an init()
// in another file of package main.
var (
	openImpl service.OpenFunc
	disImpl  disasm.Disassembler
)

func main() {
	hub := liveserver.NewHub()
	svc, err := service.New(nil, openFunc, disasmFunc(), nil, hub.Subscribers())
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		os.Exit(1)
	}
	svc.OnSessionStart(hub.SetSession)

	if dsn := os.Getenv("ROPSVC_CACHE_DSN"); dsn != "" {
		driver := os.Getenv("ROPSVC_CACHE_DRIVER")
		if driver == "" {
			driver = cache.DefaultDriver
		}
		c, err := cache.Open(driver, dsn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ropsvc: cache disabled:", err)
		} else {
			svc.SetCache(c)
			defer c.Close()
		}
	}

	prompt := "ropsvc> "
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		prompt = ""
	}

	repl(svc, prompt)
}

func openFunc(name string, data []byte, raw bool, arch archdesc.Architecture) (loader.Loader, error) {
	if openImpl == nil {
		return nil, fmt.Errorf("no loader backend registered: cannot open %s", name)
	}
	return openImpl(name, data, raw, arch)
}

func disasmFunc() disasm.Disassembler {
	return disImpl
}

func repl(svc *service.Service, prompt string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if prompt != "" {
			fmt.Print(prompt)
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "add":
			runAdd(svc, args)
		case "rm", "remove":
			runRemove(svc, args)
		case "files":
			runFiles(svc)
		case "set":
			runSet(svc, args)
		case "get":
			runGet(svc, args)
		case "load":
			runLoad(svc, args)
		case "search":
			runSearch(svc, args)
		case "disasm":
			runDisasm(svc, args)
		case "chain":
			runChain(svc, args)
		default:
			fmt.Fprintf(os.Stderr, "ropsvc: unknown command %q (try \"help\")\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  add <name> <path> [--raw]     load a binary into the service
  rm <name>                     drop a loaded binary
  files                         list loaded binaries
  set <key> <value>             set an option (inst_count, color, badbytes, all, type, detailed)
  get <key>                     print an option's current value
  load [name]                   scan gadgets for name, or every file
  search <pattern> [name]       print gadgets matching pattern
  disasm <name> <addr> <len>    disassemble at an address
  chain <name> [k=v ...]        build a named ROP chain
  quit                          exit`)
}

func runAdd(svc *service.Service, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: add <name> <path> [--raw]")
		return
	}
	name, path := args[0], args[1]
	raw := len(args) > 2 && args[2] == "--raw"

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	if err := svc.AddFile(name, data, nil, raw); err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	fmt.Printf("added %s (%s)\n", name, humanize.Bytes(uint64(len(data))))
}

func runRemove(svc *service.Service, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rm <name>")
		return
	}
	svc.RemoveFile(args[0])
}

func runFiles(svc *service.Service) {
	for _, fc := range svc.Files() {
		state := "unscanned"
		if fc.Loaded() {
			state = fmt.Sprintf("%s gadgets", humanize.Comma(int64(len(fc.Derived()))))
		}
		fmt.Printf("%s\t%s\n", fc.Name(), state)
	}
}

func runSet(svc *service.Service, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: set <key> <value>")
		return
	}
	key, raw := args[0], strings.Join(args[1:], " ")

	var value any
	switch key {
	case options.InstCount:
		n, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ropsvc:", err)
			return
		}
		value = n
	case options.Color, options.All, options.Detailed:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ropsvc:", err)
			return
		}
		value = b
	default:
		value = raw
	}

	if err := svc.Options().Set(key, value); err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
	}
}

func runGet(svc *service.Service, args []string) {
	if len(args) < 1 {
		svc.Options().Iter(func(key string, value any) bool {
			fmt.Printf("%s = %v\n", key, value)
			return true
		})
		return
	}
	v, err := svc.Options().Get(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	fmt.Println(v)
}

func runLoad(svc *service.Service, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	session, err := svc.LoadGadgets(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	fmt.Println("session", session)
}

func runSearch(svc *service.Service, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: search <pattern> [name]")
		return
	}
	pattern := args[0]
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	iter, err := svc.Search(pattern, nil, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	detailed := svc.Render().Detailed()
	for fname, g := range iter {
		if detailed {
			fmt.Printf("%s: %s\n", fname, g.SimpleString())
		} else {
			fmt.Println(g.SimpleString())
		}
	}
}

func runDisasm(svc *service.Service, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: disasm <name> <addr> <len>")
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	length, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	text, err := svc.DisassembleAt(args[0], addr, length)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	fmt.Println(text)
}

func runChain(svc *service.Service, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: chain <name> [k=v ...]")
		return
	}
	opts := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		opts[k] = v
	}
	text, err := svc.CreateRopChain(args[0], opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ropsvc:", err)
		return
	}
	fmt.Println(text)
}
