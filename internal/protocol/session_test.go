package protocol

import (
	"bytes"
	"testing"

	"github.com/tallstad/bootcore/internal/crc16"
	"github.com/tallstad/bootcore/internal/faults"
	"github.com/tallstad/bootcore/internal/frame"
	"github.com/tallstad/bootcore/internal/tick"
	"github.com/tallstad/bootcore/internal/transport"
)

type harness struct {
	t       *testing.T
	session *Session
	clock   *tick.Simulated
	fm      *faults.Manager

	host       *transport.Loopback
	hostParser *frame.Parser
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := tick.NewSimulated(0)
	device, host := transport.Pair()
	if err := host.Init(); err != nil {
		t.Fatalf("host init: %v", err)
	}
	ctx := transport.NewContext(device)
	if err := ctx.Init(); err != nil {
		t.Fatalf("device init: %v", err)
	}
	fm := faults.NewManager(clock)
	return &harness{
		t:          t,
		session:    NewSession(ctx, clock, fm),
		clock:      clock,
		fm:         fm,
		host:       host,
		hostParser: frame.NewParser(clock),
	}
}

// send encodes a command frame, delivers it, and polls the session until
// the command has been dispatched. It returns the decoded response payload.
func (h *harness) send(cmd Command, data []byte) (Response, []byte) {
	h.t.Helper()

	payload := append([]byte{byte(cmd)}, data...)
	encoded, err := frame.Encode(payload)
	if err != nil {
		h.t.Fatalf("encode command: %v", err)
	}
	if err := h.host.Send(encoded, 100); err != nil {
		h.t.Fatalf("host send: %v", err)
	}

	resp := RespOK
	for i := 0; i < 64; i++ {
		r, err := h.session.Poll(0)
		if err != nil {
			h.t.Fatalf("poll: %v", err)
		}
		if r != RespOK {
			resp = r
			break
		}
	}
	if resp == RespOK {
		h.t.Fatalf("session produced no response for %v", cmd)
	}

	wire := h.readResponseFrame()
	if len(wire) == 0 {
		h.t.Fatalf("no response frame on the wire for %v", cmd)
	}
	if Response(wire[0]) != resp {
		h.t.Fatalf("wire response %v != dispatched %v", Response(wire[0]), resp)
	}
	return resp, wire[1:]
}

func (h *harness) readResponseFrame() []byte {
	h.t.Helper()
	buf := make([]byte, 64)
	for i := 0; i < 64; i++ {
		n, err := h.host.Receive(buf, 0)
		if err != nil {
			h.t.Fatalf("host receive: %v", err)
		}
		for j := 0; j < n; j++ {
			result, perr := h.hostParser.ProcessByte(buf[j])
			if perr != nil {
				h.t.Fatalf("host parse: %v", perr)
			}
			if result == frame.ResultComplete {
				return h.hostParser.Payload()
			}
		}
	}
	return nil
}

func chunkWithCRC(data []byte) []byte {
	crc := crc16.Checksum(data)
	return append(append([]byte{}, data...), byte(crc>>8), byte(crc))
}

func TestEndToEndUpload(t *testing.T) {
	h := newHarness(t)

	resp, payload := h.send(CmdSync, nil)
	if resp != RespBootloaderReady {
		t.Fatalf("sync response = %v, want BOOTLOADER_READY", resp)
	}
	if string(payload) != SyncBanner {
		t.Fatalf("sync banner = %q, want %q", payload, SyncBanner)
	}
	if h.session.State() != StateSync {
		t.Fatalf("state = %v, want SYNC", h.session.State())
	}

	resp, _ = h.send(CmdUploadStart, []byte{0x00, 0x00, 0x02, 0x00})
	if resp != RespReadyForData {
		t.Fatalf("upload start response = %v, want READY_FOR_DATA", resp)
	}
	up := h.session.Upload()
	if up.TotalSize != 512 || up.TotalChunks != 2 || !up.InProgress {
		t.Fatalf("upload context = %+v", up)
	}

	var staged []byte
	h.session.SetChunkSink(func(data []byte) error {
		staged = append(staged, data...)
		return nil
	})

	for i := 0; i < 2; i++ {
		chunk := bytes.Repeat([]byte{byte(0x10 + i)}, ChunkSize)
		resp, _ = h.send(CmdData, chunkWithCRC(chunk))
		if resp != RespChunkOk {
			t.Fatalf("chunk %d response = %v, want CHUNK_OK", i, resp)
		}
	}
	up = h.session.Upload()
	if up.BytesReceived != 512 || up.CurrentChunk != 2 {
		t.Fatalf("after chunks: bytes=%d chunks=%d", up.BytesReceived, up.CurrentChunk)
	}
	if len(staged) != 512 {
		t.Fatalf("staged %d bytes, want 512", len(staged))
	}

	resp, _ = h.send(CmdUploadComplete, nil)
	if resp != RespUploadSuccess {
		t.Fatalf("complete response = %v, want UPLOAD_SUCCESS", resp)
	}
	if h.session.State() != StateUploadComplete {
		t.Fatalf("state = %v, want UPLOAD_COMPLETE", h.session.State())
	}
	if h.session.Upload().InProgress {
		t.Fatal("upload still marked in progress")
	}
}

func TestDataChunkCRCMismatchRejected(t *testing.T) {
	h := newHarness(t)
	h.send(CmdSync, nil)
	h.send(CmdUploadStart, []byte{0x00, 0x00, 0x01, 0x00})

	chunk := bytes.Repeat([]byte{0xAA}, ChunkSize)
	bad := chunkWithCRC(chunk)
	bad[len(bad)-1] ^= 0xFF

	resp, _ := h.send(CmdData, bad)
	if resp != RespErrorInvalidData {
		t.Fatalf("corrupted chunk response = %v, want ERROR_INVALID_DATA", resp)
	}
	if got := h.session.Upload().BytesReceived; got != 0 {
		t.Fatalf("bytes_received advanced to %d on a rejected chunk", got)
	}

	// The session recovers: a valid retransmit is accepted.
	resp, _ = h.send(CmdData, chunkWithCRC(chunk))
	if resp != RespChunkOk {
		t.Fatalf("retransmit response = %v, want CHUNK_OK", resp)
	}
	if got := h.session.Upload().BytesReceived; got != ChunkSize {
		t.Fatalf("bytes_received = %d, want %d", got, ChunkSize)
	}
}

func TestDataOutsideUploadRejected(t *testing.T) {
	h := newHarness(t)
	h.send(CmdSync, nil)

	chunk := chunkWithCRC([]byte{1, 2, 3})
	resp, _ := h.send(CmdData, chunk)
	if resp != RespErrorInvalidState {
		t.Fatalf("data outside upload = %v, want ERROR_INVALID_STATE", resp)
	}

	resp, _ = h.send(CmdUploadComplete, nil)
	if resp != RespErrorInvalidState {
		t.Fatalf("complete outside upload = %v, want ERROR_INVALID_STATE", resp)
	}
}

func TestVersionAndStatus(t *testing.T) {
	h := newHarness(t)

	resp, payload := h.send(CmdVersion, nil)
	if resp != RespVersionInfo {
		t.Fatalf("version response = %v", resp)
	}
	if len(payload) != 4 || payload[0] != VersionMajor || payload[1] != VersionMinor {
		t.Fatalf("version payload = %x", payload)
	}

	resp, payload = h.send(CmdStatus, nil)
	if resp != RespStatusInfo {
		t.Fatalf("status response = %v", resp)
	}
	if len(payload) != 8 {
		t.Fatalf("status payload length = %d, want 8", len(payload))
	}
	if State(payload[0]) != StateIdle {
		t.Fatalf("status state byte = %d", payload[0])
	}
	// Version was the first message; Status itself is the second.
	rx := uint16(payload[2])<<8 | uint16(payload[3])
	if rx != 2 {
		t.Fatalf("status rx counter = %d, want 2", rx)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.send(Command(0x5A), nil)
	if resp != RespErrorInvalidCommand {
		t.Fatalf("unknown command response = %v, want ERROR_INVALID_COMMAND", resp)
	}
	if h.session.State() != StateIdle {
		t.Fatalf("unknown command changed state to %v", h.session.State())
	}
	if got := h.session.GetStats().Errors; got != 1 {
		t.Fatalf("error counter = %d, want 1", got)
	}
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	resp, payload := h.send(CmdPing, nil)
	if resp != RespPong || len(payload) != 0 {
		t.Fatalf("ping response = %v payload %x", resp, payload)
	}
}

func TestResetClearsSession(t *testing.T) {
	h := newHarness(t)
	h.send(CmdSync, nil)
	h.send(CmdUploadStart, []byte{0x00, 0x00, 0x01, 0x00})

	resp, _ := h.send(CmdReset, nil)
	if resp != RespResetting {
		t.Fatalf("reset response = %v, want RESETTING", resp)
	}
	if h.session.State() != StateIdle {
		t.Fatalf("state after reset = %v, want IDLE", h.session.State())
	}
	if h.session.Upload().InProgress {
		t.Fatal("upload context survived reset")
	}
	if h.session.Ready() {
		t.Fatal("session still reports ready after reset")
	}
}

func TestUploadStartShortPayload(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.send(CmdUploadStart, []byte{0x00, 0x02})
	if resp != RespErrorInvalidData {
		t.Fatalf("short upload start = %v, want ERROR_INVALID_DATA", resp)
	}
}

func TestChunkSinkFailureReportsHardware(t *testing.T) {
	h := newHarness(t)
	h.send(CmdSync, nil)
	h.send(CmdUploadStart, []byte{0x00, 0x00, 0x01, 0x00})
	h.session.SetChunkSink(func(data []byte) error {
		return transport.ErrHardware
	})

	chunk := bytes.Repeat([]byte{0x42}, ChunkSize)
	resp, _ := h.send(CmdData, chunkWithCRC(chunk))
	if resp != RespErrorHardware {
		t.Fatalf("sink failure response = %v, want ERROR_HARDWARE", resp)
	}
	if got := h.session.Upload().BytesReceived; got != 0 {
		t.Fatalf("bytes_received advanced to %d despite sink failure", got)
	}
	if last, ok := h.fm.Last(); !ok || last.Code != faults.FlashWriteFailed {
		t.Fatalf("fault record = %+v, want FLASH_WRITE_FAILED", last)
	}
}
