package airsync

import (
	"errors"
	"testing"
)

func TestCodecEncryptedRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	codec := &messageCodec{cipher: c}

	msg := Message{Type: "status", Data: map[string]any{"battery": float64(42)}}
	frame, err := codec.encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[0] == '{' {
		t.Fatalf("encrypted frame looks like plaintext JSON: %q", frame)
	}
	got, err := codec.decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "status" || got.Data["battery"] != float64(42) {
		t.Fatalf("round trip mismatch: %#v", got)
	}
}

func TestCodecNoEncryptPlaintext(t *testing.T) {
	c := newTestCipher(t)
	codec := &messageCodec{cipher: c, noEncrypt: true}

	frame, err := codec.encode(Message{Type: "status", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame != `{"type":"status","data":{}}` {
		t.Fatalf("expected raw JSON frame, got %q", frame)
	}

	// A plaintext peer frame falls through decryption unchanged.
	got, err := codec.decode(`{"type":"clipboardUpdate","data":{"text":"hi"}}`)
	if err != nil {
		t.Fatalf("decode plaintext: %v", err)
	}
	if got.Type != "clipboardUpdate" || got.Data["text"] != "hi" {
		t.Fatalf("unexpected decode: %#v", got)
	}
}

func TestCodecNoEncryptStillDecryptsSealedFrames(t *testing.T) {
	c := newTestCipher(t)
	sealed := &messageCodec{cipher: c}
	open := &messageCodec{cipher: c, noEncrypt: true}

	frame, err := sealed.encode(Message{Type: "status", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := open.decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "status" {
		t.Fatalf("unexpected decode: %#v", got)
	}
}

func TestCodecEncryptedModeRejectsPlaintext(t *testing.T) {
	c := newTestCipher(t)
	codec := &messageCodec{cipher: c}

	if _, err := codec.decode(`{"type":"status","data":{}}`); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for plaintext frame in encrypted mode, got %v", err)
	}
}

func TestCodecInvalidJSON(t *testing.T) {
	c := newTestCipher(t)
	codec := &messageCodec{cipher: c, noEncrypt: true}

	if _, err := codec.decode("this is not json"); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}

	// Valid encryption wrapping invalid JSON still fails at the parse step.
	sealedGarbage, err := c.Encrypt("still not json")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sealed := &messageCodec{cipher: c}
	if _, err := sealed.decode(sealedGarbage); err == nil {
		t.Fatalf("expected error for sealed invalid JSON")
	}
}

func TestCodecNilDataNormalized(t *testing.T) {
	c := newTestCipher(t)
	codec := &messageCodec{cipher: c, noEncrypt: true}

	got, err := codec.decode(`{"type":"dismissalResponse"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Data == nil {
		t.Fatalf("expected normalized empty data map")
	}
}
