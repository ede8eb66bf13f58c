package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
)

// PCM at 16kHz keeps duration math exact and payloads small enough for the
// frames bridge.
const pollySampleRate = 16000

// pollyAPI is the minimal Polly interface required by Polly. Defined here
// for testability.
type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Polly renders speech through Amazon Polly: one call for PCM audio, one
// for viseme speech marks, both behind a shared limiter.
type Polly struct {
	api     pollyAPI
	limiter *rate.Limiter
}

// PollyOption customizes the synthesizer.
type PollyOption func(*Polly)

// WithLimiter replaces the default request limiter.
func WithLimiter(l *rate.Limiter) PollyOption {
	return func(p *Polly) { p.limiter = l }
}

// NewPolly creates a Polly-backed synthesizer.
func NewPolly(api pollyAPI, opts ...PollyOption) *Polly {
	p := &Polly{
		api: api,
		// Two calls per utterance; well under Polly's own throttle.
		limiter: rate.NewLimiter(rate.Limit(8), 4),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements Synthesizer.
func (p *Polly) Synthesize(ctx context.Context, text string, v Voice) (Synthesis, error) {
	if err := p.wait(ctx); err != nil {
		return Synthesis{}, err
	}

	voiceID := types.VoiceId(v.ID)
	engine := types.Engine(v.Engine)
	if engine == "" {
		engine = types.EngineStandard
	}

	audioOut, err := p.api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      voiceID,
		Engine:       engine,
		OutputFormat: types.OutputFormatPcm,
		SampleRate:   aws.String(strconv.Itoa(pollySampleRate)),
		LanguageCode: types.LanguageCode(v.Language),
	})
	if err != nil {
		return Synthesis{}, classify(fmt.Errorf("polly audio: %w", err))
	}
	pcm, err := io.ReadAll(audioOut.AudioStream)
	audioOut.AudioStream.Close()
	if err != nil {
		return Synthesis{}, classify(fmt.Errorf("polly audio read: %w", err))
	}

	if err := p.wait(ctx); err != nil {
		return Synthesis{}, err
	}

	marksOut, err := p.api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:            aws.String(text),
		VoiceId:         voiceID,
		Engine:          engine,
		OutputFormat:    types.OutputFormatJson,
		SpeechMarkTypes: []types.SpeechMarkType{types.SpeechMarkTypeViseme},
		SampleRate:      aws.String(strconv.Itoa(pollySampleRate)),
		LanguageCode:    types.LanguageCode(v.Language),
	})
	if err != nil {
		return Synthesis{}, classify(fmt.Errorf("polly speech marks: %w", err))
	}
	defer marksOut.AudioStream.Close()

	visemes, err := ParseSpeechMarks(marksOut.AudioStream)
	if err != nil {
		return Synthesis{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Synthesis{
		Audio:      pcm,
		SampleRate: pollySampleRate,
		Visemes:    visemes,
		Duration:   PCMDuration(pcm, pollySampleRate),
	}, nil
}

func (p *Polly) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// classify maps AWS failures onto the package sentinels. Auth problems are
// recognized by API error code, or by credential-chain failures that never
// reached the service.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidClientTokenId", "AccessDeniedException",
			"InvalidSignatureException", "ExpiredTokenException", "MissingAuthenticationToken":
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "credential") {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
