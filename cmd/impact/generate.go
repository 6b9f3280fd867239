package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/impact.report/internal/impact/l1samples"
)

func runGenerate(args []string, stdout io.Writer) error {
	def := l1samples.DefaultGeneratorConfig()
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	outPath := fs.String("out", "", "Output CSV (default stdout)")
	vehicles := fs.Int("vehicles", def.Vehicles, "Number of vehicles")
	events := fs.Int("events", def.EventsPerVehicle, "Events per vehicle")
	eventLength := fs.Int("event-length", def.EventLength, "Samples per event")
	rate := fs.Float64("accident-rate", def.AccidentRate, "Probability that an event contains an impact")
	samplingRate := fs.Float64("sampling-rate", def.SamplingRate, "Samples per second")
	seed := fs.Uint64("seed", def.Seed, "Random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	samples, err := l1samples.Generate(l1samples.GeneratorConfig{
		Vehicles:         *vehicles,
		EventsPerVehicle: *events,
		EventLength:      *eventLength,
		AccidentRate:     *rate,
		SamplingRate:     *samplingRate,
		Seed:             *seed,
	})
	if err != nil {
		return usageError{fmt.Sprintf("generate: %v", err)}
	}

	out := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *outPath, err)
		}
		defer f.Close()
		out = f
	}
	schema := l1samples.DefaultSchema()
	schema.SamplingRate = *samplingRate
	if err := l1samples.WriteCSV(out, samples, schema); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	if *outPath != "" {
		log.Printf("generate: wrote %d samples to %s", len(samples), *outPath)
	}
	return nil
}
