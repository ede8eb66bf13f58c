// Command speak renders one utterance through Polly and writes it to a WAV
// file, printing the viseme timeline. Useful for checking voices and
// animation data without the full server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/joho/godotenv"

	"github.com/MiraAI/mira-guide/engine/speech"
	"github.com/MiraAI/mira-guide/pkg/tts"
)

func main() {
	_ = godotenv.Load()

	var (
		text   = flag.String("text", "", "text to synthesize")
		voice  = flag.String("voice", "guide", "voice persona (guide, narrator)")
		out    = flag.String("out", "utterance.wav", "output WAV path")
		region = flag.String("region", envOr("AWS_REGION", "eu-central-1"), "AWS region")
	)
	flag.Parse()

	if *text == "" {
		fmt.Fprintln(os.Stderr, "usage: speak -text \"Hoş geldiniz\" [-voice guide] [-out utterance.wav]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		logger.Error("aws config", "err", err)
		os.Exit(1)
	}
	synth := tts.NewPolly(polly.NewFromConfig(awsCfg))

	v := speech.VoiceByName(*voice)
	syn, err := synth.Synthesize(ctx, *text, v)
	if err != nil {
		logger.Error("synthesize", "err", err)
		os.Exit(1)
	}

	wav := tts.WrapWAV(syn.Audio, syn.SampleRate)
	if err := os.WriteFile(*out, wav, 0o644); err != nil {
		logger.Error("write wav", "err", err)
		os.Exit(1)
	}

	fmt.Printf("voice:    %s (%s, %s)\n", v.ID, v.Engine, v.Language)
	fmt.Printf("audio:    %s (%d bytes, %d Hz, %s)\n", *out, len(wav), syn.SampleRate, syn.Duration)
	fmt.Printf("visemes:  %d\n\n", len(syn.Visemes))
	fmt.Println("offset      code")
	for _, ev := range syn.Visemes {
		fmt.Printf("%-10s  %s\n", ev.Offset, ev.Code)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
