package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var deepgramInit sync.Once

type prerecorded interface {
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error)
}

type deepgramClient struct {
	dg    prerecorded
	model string
}

func newDeepgramClient(apiKey, model string, opts *clientOptions) (*deepgramClient, error) {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	if strings.TrimSpace(model) == "" {
		model = "nova-2"
	}

	cOptions := &interfaces.ClientOptions{}
	if opts.baseURL != "" {
		cOptions.Host = opts.baseURL
	}

	rest := client.NewREST(apiKey, cOptions)
	return &deepgramClient{dg: api.New(rest), model: model}, nil
}

func (c *deepgramClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	res, err := c.dg.FromStream(ctx, bytes.NewReader(audio), &interfaces.PreRecordedTranscriptionOptions{
		Model:       c.model,
		Language:    language,
		SmartFormat: true,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}

	return transcriptFromResponse(res)
}

func transcriptFromResponse(res *restinterfaces.PreRecordedResponse) (string, error) {
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return "", fmt.Errorf("deepgram: %w", ErrNoResult)
	}

	alternatives := res.Results.Channels[0].Alternatives
	if len(alternatives) == 0 {
		return "", fmt.Errorf("deepgram: %w", ErrNoResult)
	}

	return strings.TrimSpace(alternatives[0].Transcript), nil
}
