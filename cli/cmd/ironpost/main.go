// Command ironpost is the operator CLI: it validates configuration and
// rules, scans paths for vulnerable dependencies, and inspects or
// isolates containers. The daemon core only ever sees well-typed
// requests; everything here is boundary plumbing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dongwonkwak/ironpost/engine/config"
	"github.com/dongwonkwak/ironpost/engine/guard"
	"github.com/dongwonkwak/ironpost/engine/logpipe"
	"github.com/dongwonkwak/ironpost/engine/sbom"
	"github.com/dongwonkwak/ironpost/engine/telemetry/logging"
)

// Exit codes of the operator CLI.
const (
	exitOK            = 0
	exitGeneric       = 1
	exitConfigInvalid = 2
	exitUnreachable   = 3
	exitVulnFound     = 4
	exitIO            = 10
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}

	flags := flag.NewFlagSet("ironpost", flag.ContinueOnError)
	configPath := flags.String("config", "", "Path to the ironpost TOML configuration file")
	if err := flags.Parse(args); err != nil {
		return exitGeneric
	}
	rest := flags.Args()
	if len(rest) == 0 {
		usage()
		return exitGeneric
	}

	if _, err := logging.Setup(logging.Options{Level: "warn", Format: "pretty"}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}

	switch rest[0] {
	case "status":
		return cmdStatus(*configPath)
	case "config":
		return cmdConfig(*configPath, rest[1:])
	case "rules":
		return cmdRules(*configPath, rest[1:])
	case "scan":
		return cmdScan(*configPath, rest[1:])
	case "containers":
		return cmdContainers(*configPath, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", rest[0])
		usage()
		return exitGeneric
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: ironpost [-config PATH] COMMAND

Commands:
  status                  Show daemon health (reads the metrics endpoint)
  config validate         Validate the configuration file
  config show             Print the effective configuration
  rules list              List detection rules in the configured rule dir
  rules validate PATH     Validate one rule file
  scan PATH               Scan a path for vulnerable dependencies
  containers list         List containers visible to the guard
  containers isolate ID   Pause a container
  containers release ID   Unpause a container
`)
}

func loadConfig(path string) (config.Config, int) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return cfg, exitConfigInvalid
	}
	return cfg, exitOK
}

func cmdStatus(configPath string) int {
	cfg, code := loadConfig(configPath)
	if code != exitOK {
		return code
	}
	if !cfg.Metrics.Enabled {
		fmt.Fprintln(os.Stderr, "metrics endpoint disabled; cannot query daemon status")
		return exitUnreachable
	}
	url := fmt.Sprintf("http://%s:%d/metrics", cfg.Metrics.ListenAddr, cfg.Metrics.Port)
	body, err := fetch(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon unreachable at %s: %v\n", url, err)
		return exitUnreachable
	}
	fmt.Printf("daemon reachable at %s (%d bytes of metrics)\n", url, len(body))
	return exitOK
}

func cmdConfig(configPath string, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}
	switch args[0] {
	case "validate":
		_, code := loadConfig(configPath)
		if code == exitOK {
			fmt.Println("configuration OK")
		}
		return code
	case "show":
		cfg, code := loadConfig(configPath)
		if code != exitOK {
			return code
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return exitGeneric
		}
		fmt.Println(string(out))
		return exitOK
	default:
		usage()
		return exitGeneric
	}
}

func cmdRules(configPath string, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}
	switch args[0] {
	case "list":
		cfg, code := loadConfig(configPath)
		if code != exitOK {
			return code
		}
		rules, err := logpipe.LoadRuleDir(cfg.LogPipe.RuleDir, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot load rules: %v\n", err)
			return exitIO
		}
		for _, r := range rules {
			fmt.Printf("%-32s %-8s %-8s %s\n", r.ID, r.Severity, r.Status, r.Title)
		}
		fmt.Printf("%d rule(s)\n", len(rules))
		return exitOK
	case "validate":
		if len(args) < 2 {
			usage()
			return exitGeneric
		}
		rule, err := logpipe.LoadRuleFile(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "rule invalid: %v\n", err)
			return exitConfigInvalid
		}
		fmt.Printf("rule %q OK\n", rule.ID)
		return exitOK
	default:
		usage()
		return exitGeneric
	}
}

func cmdScan(configPath string, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}
	cfg, code := loadConfig(configPath)
	if code != exitOK {
		return code
	}
	cfg.Sbom.Enabled = true
	cfg.Sbom.ScanDirs = []string{args[0]}

	scanner, err := sbom.New(cfg.Sbom, nil, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitGeneric
	}
	if err := scanner.LoadDatabase(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: vulnerability database unavailable: %v\n", err)
	}

	files, err := sbom.DetectLockfiles(args[0], sbom.DefaultParsers())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitIO
	}
	vulnerable := false
	for _, file := range files {
		result, err := scanner.ScanFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scan failed for %s: %v\n", file, err)
			continue
		}
		fmt.Printf("%s: %d package(s), %d finding(s)\n", file, result.TotalPackages, len(result.Findings))
		for _, f := range result.Findings {
			vulnerable = true
			fmt.Printf("  %s\n", f.Vulnerability.String())
		}
	}
	if vulnerable {
		return exitVulnFound
	}
	return exitOK
}

func cmdContainers(configPath string, args []string) int {
	if len(args) == 0 {
		usage()
		return exitGeneric
	}
	cfg, code := loadConfig(configPath)
	if code != exitOK {
		return code
	}
	docker, err := guard.NewDockerClient(cfg.Container.DockerSocket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect to docker: %v\n", err)
		return exitUnreachable
	}
	defer docker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		containers, err := docker.ListContainers(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUnreachable
		}
		for _, c := range containers {
			fmt.Println(c.String())
		}
		return exitOK
	case "isolate":
		if len(args) < 2 {
			usage()
			return exitGeneric
		}
		if err := docker.Pause(ctx, args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitGeneric
		}
		fmt.Printf("container %s paused\n", args[1])
		return exitOK
	case "release":
		if len(args) < 2 {
			usage()
			return exitGeneric
		}
		if err := docker.Unpause(ctx, args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitGeneric
		}
		fmt.Printf("container %s unpaused\n", args[1])
		return exitOK
	default:
		usage()
		return exitGeneric
	}
}

// fetch GETs a URL with a short timeout and returns the body.
func fetch(url string) ([]byte, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
