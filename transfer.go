package airsync

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"airsync/internal/observability/metrics"
)

const (
	transferChunkSize = 64 * 1024
	chunkAckTimeout   = 10 * time.Second
	verifyTimeout     = 30 * time.Second
)

// transferState is the per-transfer record, one variant populated per
// direction.
type transferState struct {
	in  *incomingTransfer
	out *outgoingTransfer
}

type incomingTransfer struct {
	meta map[string]any
	file *os.File
	path string
	hash hash.Hash
}

type outgoingTransfer struct {
	acks     []chan struct{}
	verified chan struct{}
}

func (h *ConnectionHandler) addTransfer(id string, t *transferState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transfers[id] = t
}

func (h *ConnectionHandler) getTransfer(id string) (*transferState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.transfers[id]
	return t, ok
}

func (h *ConnectionHandler) removeTransfer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.transfers, id)
}

// cleanupTransfers releases every in-flight incoming transfer: the temp file
// handle is closed and the file removed. Runs on every connection exit path.
func (h *ConnectionHandler) cleanupTransfers() {
	h.mu.Lock()
	transfers := h.transfers
	h.transfers = make(map[string]*transferState)
	h.mu.Unlock()
	for id, t := range transfers {
		if t.in == nil {
			continue
		}
		h.log.Warn("cleaning up incomplete incoming transfer", "transfer_id", id)
		_ = t.in.file.Close()
		if err := os.Remove(t.in.path); err != nil && !os.IsNotExist(err) {
			h.log.Warn("failed to remove temp file", "path", t.in.path, "error", err)
		}
	}
}

// sendFile drives one outgoing transfer: init, chunks in strictly ascending
// index order with a per-chunk acknowledgement wait, then completion and the
// terminal verification wait. Chunk N+1 is never on the wire before the ack
// for chunk N arrived.
func (h *ConnectionHandler) sendFile(ctx context.Context, path, name string, size int64, mimeType, checksum string) error {
	transferID := uuid.NewString()
	totalChunks := int((size + transferChunkSize - 1) / transferChunkSize)

	out := &outgoingTransfer{
		acks:     make([]chan struct{}, totalChunks),
		verified: make(chan struct{}, 1),
	}
	for i := range out.acks {
		out.acks[i] = make(chan struct{}, 1)
	}
	h.addTransfer(transferID, &transferState{out: out})
	defer h.removeTransfer(transferID)

	log := h.log.With("transfer_id", transferID)
	log.Info("starting outgoing transfer", "name", name, "size", size, "chunks", totalChunks)

	h.send(Message{Type: msgFileTransferInit, Data: map[string]any{
		"id":       transferID,
		"name":     name,
		"size":     size,
		"mime":     mimeType,
		"checksum": checksum,
	}})

	f, err := os.Open(path)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("outgoing", "error").Inc()
		return fmt.Errorf("airsync: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, transferChunkSize)
	for index := 0; index < totalChunks; index++ {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			metrics.TransfersTotal.WithLabelValues("outgoing", "error").Inc()
			return fmt.Errorf("airsync: read %s: %w", path, err)
		}
		h.send(Message{Type: msgFileChunk, Data: map[string]any{
			"id":    transferID,
			"index": index,
			"chunk": base64.StdEncoding.EncodeToString(buf[:n]),
		}})
		metrics.TransferBytesTotal.WithLabelValues("outgoing").Add(float64(n))

		select {
		case <-out.acks[index]:
		case <-time.After(chunkAckTimeout):
			log.Error("timed out waiting for chunk ack", "index", index)
			metrics.TransfersTotal.WithLabelValues("outgoing", "timeout").Inc()
			return fmt.Errorf("%w: chunk %d", ErrTransferTimeout, index)
		case <-ctx.Done():
			metrics.TransfersTotal.WithLabelValues("outgoing", "canceled").Inc()
			return ctx.Err()
		}
	}

	h.send(Message{Type: msgFileTransferComplete, Data: map[string]any{
		"id":       transferID,
		"name":     name,
		"size":     size,
		"checksum": checksum,
	}})

	select {
	case <-out.verified:
		log.Info("transfer verified by device")
	case <-time.After(verifyTimeout):
		log.Error("timed out waiting for transferVerified")
	case <-ctx.Done():
	}
	metrics.TransfersTotal.WithLabelValues("outgoing", "ok").Inc()
	return nil
}

func (h *ConnectionHandler) handleFileTransferInit(ctx context.Context, data map[string]any) {
	transferID, ok := data["id"].(string)
	if !ok || transferID == "" {
		h.log.Warn("fileTransferInit without id")
		return
	}
	f, err := os.CreateTemp("", "airsync_")
	if err != nil {
		h.log.Error("failed to open temp file for transfer", "transfer_id", transferID, "error", err)
		return
	}
	h.addTransfer(transferID, &transferState{in: &incomingTransfer{
		meta: data,
		file: f,
		path: f.Name(),
		hash: sha256.New(),
	}})
	h.log.Info("receiving file", "transfer_id", transferID, "name", data["name"])
	h.srv.fireEvent(ctx, EventFileTransferInit, h.id, data)
}

func (h *ConnectionHandler) handleFileChunk(data map[string]any) {
	transferID, _ := data["id"].(string)
	t, ok := h.getTransfer(transferID)
	if !ok || t.in == nil {
		h.log.Warn("chunk for unknown transfer", "transfer_id", transferID)
		return
	}
	encoded, _ := data["chunk"].(string)
	chunk, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		h.log.Error("failed to decode file chunk", "transfer_id", transferID, "error", err)
		return
	}
	if _, err := t.in.file.Write(chunk); err != nil {
		h.log.Error("failed to write file chunk", "transfer_id", transferID, "error", err)
		return
	}
	t.in.hash.Write(chunk)
	metrics.TransferBytesTotal.WithLabelValues("incoming").Add(float64(len(chunk)))
}

func (h *ConnectionHandler) handleFileChunkAck(data map[string]any) {
	transferID, _ := data["id"].(string)
	index, ok := intField(data, "index")
	t, found := h.getTransfer(transferID)
	if !found || t.out == nil {
		h.log.Warn("ack for unknown transfer", "transfer_id", transferID)
		return
	}
	if !ok || index < 0 || index >= len(t.out.acks) {
		h.log.Warn("ack for unknown chunk index", "transfer_id", transferID, "index", data["index"])
		return
	}
	select {
	case t.out.acks[index] <- struct{}{}:
	default:
	}
}

func (h *ConnectionHandler) handleFileTransferComplete(ctx context.Context, data map[string]any) {
	transferID, _ := data["id"].(string)
	t, ok := h.getTransfer(transferID)
	if !ok || t.in == nil {
		h.log.Warn("complete for unknown transfer", "transfer_id", transferID)
		return
	}
	_ = t.in.file.Close()

	computed := hex.EncodeToString(t.in.hash.Sum(nil))
	declared, _ := data["checksum"].(string)
	verified := true
	// Senders use the literal string "null" as a no-checksum sentinel;
	// treat it the same as an absent checksum.
	if declared != "" && declared != "null" {
		if computed == declared {
			h.log.Info("file checksum verified", "transfer_id", transferID, "sha256", computed)
		} else {
			h.log.Warn("file checksum mismatch", "transfer_id", transferID, "declared", declared, "computed", computed)
			verified = false
		}
	} else {
		h.log.Info("no checksum declared, assuming verified", "transfer_id", transferID)
	}

	h.log.Info("file transfer complete", "transfer_id", transferID, "name", data["name"])
	data["temp_path"] = t.in.path
	data["verified"] = verified
	h.srv.fireEvent(ctx, EventFileTransferComplete, h.id, data)
	h.send(Message{Type: msgTransferVerified, Data: map[string]any{
		"id":       transferID,
		"verified": verified,
	}})
	h.removeTransfer(transferID)
	result := "ok"
	if !verified {
		result = "checksum_mismatch"
	}
	metrics.TransfersTotal.WithLabelValues("incoming", result).Inc()
}

func (h *ConnectionHandler) handleTransferVerified(data map[string]any) {
	transferID, _ := data["id"].(string)
	verified, _ := data["verified"].(bool)
	t, ok := h.getTransfer(transferID)
	if !ok || t.out == nil {
		h.log.Info("transfer verified by device", "data", data)
		return
	}
	h.log.Info("device reports verification", "transfer_id", transferID, "verified", verified)
	select {
	case t.out.verified <- struct{}{}:
	default:
	}
}

// intField reads a numeric JSON field, which arrives as float64 from the
// decoder.
func intField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
