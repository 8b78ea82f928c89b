package client

import (
	"context"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/extract"
)

const (
	characterCardModel = "sora-video-landscape-10s"
	unnamedCharacter   = "unnamed character"
	MetaCharacterName  = "characterName"
)

// CharacterCardAdapter registers a Sora character from a short clip. The
// handle is pattern-matched out of the streamed reply.
type CharacterCardAdapter struct {
	base
	sora *SoraVideoAdapter
}

func NewCharacterCardAdapter(b base) *CharacterCardAdapter {
	return &CharacterCardAdapter{base: b, sora: NewSoraVideoAdapter(b)}
}

func (a *CharacterCardAdapter) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	key, err := a.ready()
	if err != nil {
		return nil, err
	}
	if req.Params.FirstFrame == "" {
		return nil, apperr.Provider(a.provider, 0, "first frame required")
	}
	if len(req.Params.Files) == 0 || req.Params.Files[0].Data == "" {
		return nil, apperr.Provider(a.provider, 0, "video required")
	}

	video := asDataURL(req.Params.Files[0].Data, orDefault(req.Params.Files[0].MimeType, "video/mp4"))
	payload := chatRequest{
		Model: characterCardModel,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []chatContentPart{{Type: "video_url", VideoURL: &chatURLObject{URL: video}}},
		}},
		Stream: true,
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.StreamTimeout)
	defer cancel()

	resp, err := a.sora.openStream(ctx, key, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		name     string
		finished bool
		failure  error
	)
	streamErr := readSSE(resp.Body, func(data []byte) error {
		chunk, ok := decodeChunk(data)
		if !ok {
			return nil
		}
		if chunk.Error != nil {
			failure = apperr.Provider(a.provider, 0, orDefault(chunk.Error.Message, "API returned an error"))
			return errStopStream
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		d := chunk.Choices[0].Delta
		if d.ReasoningContent != "" {
			req.progress(-1, d.ReasoningContent)
			if n := extract.CharacterName(d.ReasoningContent); n != "" {
				name = n
			}
		}
		if d.Content != "" {
			if n := extract.CharacterName(d.Content); n != "" {
				name = n
			}
		}
		if chunk.finished() {
			finished = true
			return errStopStream
		}
		return nil
	})

	if failure != nil {
		return nil, failure
	}
	if streamErr != nil && name == "" {
		if isConnectionError(streamErr) {
			return nil, apperr.Provider(a.provider, 0, "connection closed by remote server")
		}
		return nil, streamErr
	}
	if name == "" {
		if !finished {
			return nil, apperr.Provider(a.provider, 0, "character card failed: no character name returned, please retry")
		}
		name = unnamedCharacter
	}

	return &GenerateResult{
		URL:  req.Params.FirstFrame,
		Meta: map[string]any{MetaCharacterName: name},
	}, nil
}
