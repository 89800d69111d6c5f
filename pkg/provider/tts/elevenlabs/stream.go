package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/MrWong99/mangavoice/pkg/provider/tts"
)

// streamReadLimit bounds a single WebSocket message. Audio chunks arrive
// base64-encoded and routinely exceed the library's 32 KiB default.
const streamReadLimit = 8 << 20

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// buildStreamURL constructs the stream-input URL for a voice.
func (p *Provider) buildStreamURL(voiceID, language string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if code := languageCode(language); code != "" {
		q.Set("language_code", code)
	}
	return p.wsBaseURL + fmt.Sprintf(streamPathFmt, url.PathEscape(voiceID)) + "?" + q.Encode()
}

// buildWSMessage constructs the JSON text payload for a single text fragment.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// synthesizeStream opens a stream-input WebSocket, sends the whole request
// text followed by the flush command, and collects PCM until the server
// marks the stream final or closes it normally.
func (p *Provider) synthesizeStream(ctx context.Context, req tts.Request) ([]byte, error) {
	conn, _, err := websocket.Dial(ctx, p.buildStreamURL(req.VoiceID, req.Language), nil)
	if err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "dial stream", Cause: err, Retryable: true}
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	// ElevenLabs requires a non-empty first text value.
	boi, _ := json.Marshal(boiMessage{
		Text:          " ",
		VoiceSettings: defaultVoiceSettings(req.Rate),
		XiAPIKey:      p.apiKey,
	})
	if err := conn.Write(ctx, websocket.MessageText, boi); err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "send BOI", Cause: err, Retryable: true}
	}

	// Trailing space tells the server the fragment is complete.
	msg, _ := buildWSMessage(req.Text+" ", nil)
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "send text", Cause: err, Retryable: true}
	}
	flush, _ := buildWSMessage("", nil)
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return nil, &tts.Error{Provider: providerName, Message: "send flush", Cause: err, Retryable: true}
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, &tts.Error{Provider: providerName, Message: "read stream", Cause: err, Retryable: true}
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, streamError(resp)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, &tts.Error{Provider: providerName, Message: "decode audio chunk", Cause: err}
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, &tts.Error{Provider: providerName, Message: "stream contained no audio"}
	}
	return pcm, nil
}

// streamError maps an in-band error frame onto a tts.Error.
func streamError(resp audioResponse) error {
	msg := resp.Message
	if msg == "" {
		msg = resp.Error
	}
	e := &tts.Error{Provider: providerName, Message: msg}
	switch resp.Error {
	case "auth_error", "invalid_api_key", "unauthorized":
		e.Cause = tts.ErrUnauthorized
	case "voice_not_found":
		e.Cause = tts.ErrInvalidVoice
	case "rate_limited", "quota_exceeded":
		e.Cause = tts.ErrRateLimited
		e.Retryable = true
	default:
		e.Cause = errors.New(resp.Error)
	}
	return e
}
