package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/plugkit/plugkit/engine"
	"github.com/plugkit/plugkit/loader"
)

func main() {
	var (
		modulePath  = flag.String("module", "", "Path to plugin wasm file")
		onDemand    = flag.Bool("ondemand", false, "Defer loading until the first explicit request")
		list        = flag.Bool("list", false, "List exported functions and exit")
		wasi        = flag.Bool("wasi", false, "Enable WASI preview1 for the plugin")
		verbose     = flag.Bool("v", false, "Verbose lifecycle logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *modulePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: plugctl -module <file.wasm> [-list] [-ondemand] [-wasi]")
		fmt.Fprintln(os.Stderr, "       plugctl -module <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
		loader.SetLogger(log.Named("loader"))
		engine.SetLogger(log.Named("engine"))
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*modulePath, *wasi); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*modulePath, *onDemand, *list, *wasi); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(modulePath string, onDemand, listOnly, wasi bool) error {
	ctx := context.Background()

	eng, err := engine.NewWithConfig(ctx, &engine.Config{EnableWASI: wasi})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Shutdown(ctx)

	reg := loader.NewRegistry(eng)

	h, err := loader.NewHandle(ctx, reg, modulePath, onDemand)
	if err != nil {
		return fmt.Errorf("bind handle: %w", err)
	}
	defer h.Close(ctx)

	if onDemand {
		if err := h.Load(ctx); err != nil {
			return fmt.Errorf("load: %w", err)
		}
	}

	fmt.Printf("Library: %s\n", h.LibraryPath())
	fmt.Printf("Loaded: %v (on-demand: %v)\n", h.IsLibraryLoaded(), h.IsOnDemandLoadUnloadEnabled())
	fmt.Printf("Load ref count: %d\n", h.LoadRefCount())

	if listOnly {
		mod, ok := reg.LoadedModule(modulePath)
		if !ok {
			return fmt.Errorf("library %s is not loaded", modulePath)
		}
		wasmMod, ok := mod.(*engine.Module)
		if !ok {
			return fmt.Errorf("unexpected module type %T", mod)
		}
		names := wasmMod.ExportNames()
		fmt.Printf("Exports: %d\n", len(names))
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
	}

	res, err := h.Unload(ctx)
	if err != nil {
		return fmt.Errorf("unload: %w", err)
	}
	fmt.Printf("Unload: %s (remaining requests: %d)\n", res.Outcome, res.Remaining)
	return nil
}
