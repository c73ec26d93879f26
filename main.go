package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fansqz/debug-session/config"
	_ "github.com/fansqz/debug-session/debugger/simulator"
)

// 定义版本号
const Version = "2.0.0"

// CLI 命令行参数
type CLI struct {
	Port    int              `arg:"" help:"TCP port to listen on (1-65535)."`
	Config  string           `short:"c" type:"path" help:"Config file, searched in the default locations when empty."`
	Version kong.VersionFlag `help:"Show the version number."`
}

// Validate is called by kong after parsing.
func (c *CLI) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("debug-session"),
		kong.Description("Debug session server: serves one client connection over a framed socket."),
		kong.Writers(os.Stdout, os.Stderr),
		kong.Vars{"version": Version},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if kctx != nil {
			kctx.Stdout = os.Stderr
			_ = kctx.PrintUsage(true)
		}
		return 1
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config fail, err = %v\n", err)
		return 1
	}
	//启动日志
	if err = SetupLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "setup logger fail, err = %v\n", err)
		return 1
	}
	defer CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, cli.Port)
}
