// gokern boots the kernel, installs the demo programs into an
// in-memory root filesystem and runs one of them as the first process.
//
// Usage:
//
//	gokern                              # run the configured init program
//	gokern /bin/forktest 8              # run one program with arguments
//	gokern -stats -ps /bin/init /bin/io # show process list and call counts
//
// Configuration is read from the YAML file named by -config or
// GOKERN_CONFIG, then overridden by GOKERN_* environment variables.
// Setting hostroot mounts that host directory as emu0:.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"gokern/pkg/arch"
	"gokern/pkg/config"
	db "gokern/pkg/debug"
	"gokern/pkg/dev/console"
	"gokern/pkg/kern"
	"gokern/pkg/vfs"
	"gokern/pkg/vfs/diskfs"
	"gokern/pkg/vfs/memfs"
)

var (
	configPath = flag.String("config", os.Getenv("GOKERN_CONFIG"), "YAML configuration file")
	showStats  = flag.Bool("stats", false, "print system call counts at shutdown")
	showProcs  = flag.Bool("ps", false, "list processes once the first program is running")
)

func main() {
	flag.Parse()
	log := db.Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	db.SetLabels(cfg.Debug)

	k, err := boot(cfg, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatal("boot", zap.Error(err))
	}

	argv := cfg.Init
	if flag.NArg() > 0 {
		argv = flag.Args()
	}
	status, err := run(k, argv, os.Stdout)
	if err != nil {
		log.Fatal("run", zap.Strings("argv", argv), zap.Error(err))
	}
	k.WaitIdle()

	if *showStats {
		printStats(os.Stdout, k)
	}
	if arch.WIfSignaled(status) {
		fmt.Printf("%v: killed by signal %d\n", argv[0], arch.WTermSig(status))
		os.Exit(128 + arch.WTermSig(status))
	}
	os.Exit(arch.WExitStatus(status))
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// boot builds the namespace and the kernel: programs under /bin of a
// memfs root, the console as con: and, when configured, the host
// directory as emu0:.
func boot(cfg *config.Config, in io.Reader, out io.Writer) (*kern.Kernel, error) {
	root := memfs.New()
	if err := installPrograms(root); err != nil {
		return nil, err
	}
	ns := vfs.NewMux(root)
	if err := ns.Mount("con", console.New(in, out)); err != nil {
		return nil, err
	}
	if cfg.HostRoot != "" {
		if err := ns.Mount("emu0", diskfs.New(cfg.HostRoot)); err != nil {
			return nil, err
		}
	}
	return kern.New(cfg, ns), nil
}

// run starts argv as the first process and waits for it.
func run(k *kern.Kernel, argv []string, out io.Writer) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("nothing to run")
	}
	pid, err := k.RunProgram(argv[0], argv...)
	if err != nil {
		return 0, err
	}
	if *showProcs {
		printProcs(out, k)
	}
	return k.Wait(pid)
}

func printProcs(w io.Writer, k *kern.Kernel) {
	fmt.Fprintf(w, "%5s %5s %-7s %6s %s\n", "PID", "PPID", "STATE", "PAGES", "COMMAND")
	for _, pi := range k.Procs() {
		fmt.Fprintf(w, "%5d %5d %-7v %6d %v %q\n", pi.PID, pi.PPID, pi.State, pi.Pages, pi.Command, pi.Args)
	}
}

func printStats(w io.Writer, k *kern.Kernel) {
	hits, misses := k.Loader().Stats()
	fmt.Fprintf(w, "uptime %v, memory %v\n", k.Uptime().Round(time.Millisecond), k.Coremap())
	fmt.Fprintf(w, "image cache: %s hits, %s misses\n",
		humanize.Comma(int64(hits)), humanize.Comma(int64(misses)))
	for _, st := range k.Stats() {
		fmt.Fprintf(w, "%-8s %10s calls %8s errors\n",
			st.Name, humanize.Comma(int64(st.Calls)), humanize.Comma(int64(st.Errors)))
	}
}
