package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/pawdentify/cmd"
	"github.com/tphakala/pawdentify/internal/app"
	"github.com/tphakala/pawdentify/internal/buildinfo"
)

// Version information (can be set via ldflags during build)
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx := &app.Context{Build: buildinfo.NewContext(version, buildDate)}

	rootCmd := cmd.RootCommand(ctx)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
