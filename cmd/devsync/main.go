package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "dev"

	// BuildDate is set during build
	BuildDate = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "devsync",
	Short: "A development server that pushes build events to the browser",
	Long: `devsync watches your sources and static files, runs your build command
and tells every connected page what happened: apply a hot update,
reload, or show the compiler errors. Pages connect over a websocket
or, where that is not available, a long-polling fallback.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFiles(cmd)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
Build Date: ` + BuildDate + `
`)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./devsync.toml)")
}

// loadEnvFiles loads .env then .env.local; variables already set win
func loadEnvFiles(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	for _, name := range []string{".env", ".env.local"} {
		if err := godotenv.Load(name); err == nil && verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "Loaded %s\n", name)
		}
	}
}
