package main

import (
	"flag"
	"strings"

	"go.uber.org/fx"

	"github.com/joshuarp/inference-api/internal/app"
)

var defaultBin string

func selectedModules(binValue string) []fx.Option {
	selected := strings.TrimSpace(strings.ToLower(binValue))

	switch selected {
	case "api":
		return []fx.Option{
			app.InferenceModule(),
		}
	case "jobs":
		return []fx.Option{
			app.JobsModule(),
		}
	default:
		return []fx.Option{
			app.InferenceModule(),
			app.JobsModule(),
		}
	}
}

func main() {
	bin := flag.String("bin", defaultBin, "select module binary: api|jobs (default: all)")
	flag.Parse()

	app.New(*bin, selectedModules(*bin)...).Run()
}
