package protocol

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tallstad/bootcore/internal/crc16"
	"github.com/tallstad/bootcore/internal/faults"
	"github.com/tallstad/bootcore/internal/frame"
	"github.com/tallstad/bootcore/internal/logging"
	"github.com/tallstad/bootcore/internal/tick"
	"github.com/tallstad/bootcore/internal/transport"
)

// responseTimeoutMs bounds the transmit of one response frame.
const responseTimeoutMs = 1000

// Upload tracks one in-flight firmware transfer.
type Upload struct {
	TotalSize     uint32
	ChunkSize     uint32
	TotalChunks   uint16
	CurrentChunk  uint16
	BytesReceived uint32
	LastChunkCRC  uint16
	InProgress    bool
}

// ChunkSink receives validated chunk bytes, typically the flash staging
// engine.
type ChunkSink func(data []byte) error

// Session is the single-upload protocol session. It consumes decoded frame
// payloads, dispatches command handlers, and emits exactly one response
// frame per command.
type Session struct {
	tr     *transport.Context
	parser *frame.Parser
	clock  tick.Source
	fm     *faults.Manager

	state    State
	upload   Upload
	sink     ChunkSink
	frameLog bool

	messagesReceived uint32
	messagesSent     uint32
	errorsCount      uint32

	lastActivity  uint32
	handshakeTick uint32

	rxBuf [64]byte
}

// NewSession returns an idle session reading frames from tr.
func NewSession(tr *transport.Context, clock tick.Source, fm *faults.Manager) *Session {
	return &Session{
		tr:           tr,
		parser:       frame.NewParser(clock),
		clock:        clock,
		fm:           fm,
		lastActivity: clock.Now(),
	}
}

// SetChunkSink routes validated upload bytes to sink.
func (s *Session) SetChunkSink(sink ChunkSink) { s.sink = sink }

// SetFrameLogging enables hex dumps of every command and response payload.
func (s *Session) SetFrameLogging(on bool) { s.frameLog = on }

// SetFrameTimeouts overrides the parser's inter-byte and whole-frame
// reception timeouts.
func (s *Session) SetFrameTimeouts(byteMs, frameMs uint32) {
	s.parser.SetTimeouts(byteMs, frameMs)
}

// Poll reads whatever the transport has within timeoutMs and feeds it to
// the frame parser, dispatching every completed frame. It returns the last
// response produced, or RespOK when no frame completed.
func (s *Session) Poll(timeoutMs uint32) (Response, error) {
	n, err := s.tr.Receive(s.rxBuf[:], timeoutMs)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return RespOK, nil
		}
		return RespErrorHardware, err
	}
	s.lastActivity = s.clock.Now()

	last := RespOK
	for i := 0; i < n; i++ {
		result, perr := s.parser.ProcessByte(s.rxBuf[i])
		if perr != nil {
			s.errorsCount++
			s.reportFrameError(perr)
			continue
		}
		if result == frame.ResultComplete {
			resp, herr := s.HandleCommand(s.parser.Payload())
			if herr != nil {
				return resp, herr
			}
			last = resp
		}
	}
	return last, nil
}

func (s *Session) reportFrameError(err error) {
	code := faults.UARTFraming
	switch {
	case errors.Is(err, frame.ErrCRCMismatch):
		code = faults.CRCMismatch
	case errors.Is(err, frame.ErrTimeout):
		code = faults.UARTTimeout
	}
	s.fm.Report(code, faults.SeverityWarning, s.state.String(), 0, err.Error())
}

// HandleCommand dispatches one decoded frame payload and sends the
// response. The returned error reflects transport failures only; protocol
// failures surface as error responses.
func (s *Session) HandleCommand(payload []byte) (Response, error) {
	if len(payload) == 0 {
		s.errorsCount++
		return s.sendResponse(RespErrorInvalidData, nil)
	}
	s.messagesReceived++
	if s.frameLog {
		logging.LogFrame("rx", payload)
	}

	cmd := Command(payload[0])
	data := payload[1:]
	logging.Debug("Command received",
		zap.Stringer("command", cmd),
		zap.Int("data_len", len(data)),
		zap.Stringer("session_state", s.state),
	)

	switch cmd {
	case CmdSync:
		return s.handleSync()
	case CmdVersion:
		return s.handleVersion()
	case CmdStatus:
		return s.handleStatus()
	case CmdUploadStart:
		return s.handleUploadStart(data)
	case CmdData:
		return s.handleData(data)
	case CmdUploadComplete:
		return s.handleUploadComplete()
	case CmdReset:
		return s.handleReset()
	case CmdPing:
		return s.sendResponse(RespPong, nil)
	default:
		s.errorsCount++
		s.fm.Report(faults.InvalidCommand, faults.SeverityWarning, s.state.String(),
			uint32(cmd), "unknown command byte")
		return s.sendResponse(RespErrorInvalidCommand, nil)
	}
}

func (s *Session) handleSync() (Response, error) {
	s.state = StateSync
	s.handshakeTick = s.clock.Now()
	return s.sendResponse(RespBootloaderReady, []byte(SyncBanner))
}

func (s *Session) handleVersion() (Response, error) {
	return s.sendResponse(RespVersionInfo, []byte{VersionMajor, VersionMinor, 0, 1})
}

func (s *Session) handleStatus() (Response, error) {
	status := []byte{
		byte(s.state),
		0,
		byte(saturate16(s.messagesReceived) >> 8), byte(saturate16(s.messagesReceived)),
		byte(saturate16(s.messagesSent) >> 8), byte(saturate16(s.messagesSent)),
		byte(saturate16(s.errorsCount) >> 8), byte(saturate16(s.errorsCount)),
	}
	return s.sendResponse(RespStatusInfo, status)
}

func (s *Session) handleUploadStart(data []byte) (Response, error) {
	if len(data) < 4 {
		s.errorsCount++
		return s.sendResponse(RespErrorInvalidData, nil)
	}
	total := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])

	s.upload = Upload{
		TotalSize:   total,
		ChunkSize:   ChunkSize,
		TotalChunks: uint16((total + ChunkSize - 1) / ChunkSize),
		InProgress:  true,
	}
	s.state = StateUploadStart
	logging.Info("Upload started",
		zap.Uint32("total_size", total),
		zap.Uint16("total_chunks", s.upload.TotalChunks),
	)
	return s.sendResponse(RespReadyForData, nil)
}

func (s *Session) handleData(data []byte) (Response, error) {
	if !s.upload.InProgress {
		s.errorsCount++
		s.fm.Report(faults.StateViolation, faults.SeverityWarning, s.state.String(),
			0, "data chunk outside an upload")
		return s.sendResponse(RespErrorInvalidState, nil)
	}
	if len(data) < 3 {
		s.errorsCount++
		return s.sendResponse(RespErrorInvalidData, nil)
	}

	chunk := data[:len(data)-2]
	wireCRC := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])
	if crc16.Checksum(chunk) != wireCRC {
		s.errorsCount++
		s.fm.Report(faults.CRCMismatch, faults.SeverityError, s.state.String(),
			uint32(wireCRC), "chunk checksum mismatch")
		return s.sendResponse(RespErrorInvalidData, nil)
	}

	if s.sink != nil {
		if err := s.sink(chunk); err != nil {
			s.errorsCount++
			s.fm.Report(faults.FlashWriteFailed, faults.SeverityCritical, s.state.String(),
				s.upload.BytesReceived, err.Error())
			return s.sendResponse(RespErrorHardware, nil)
		}
	}

	s.upload.BytesReceived += uint32(len(chunk))
	s.upload.CurrentChunk++
	s.upload.LastChunkCRC = wireCRC
	s.state = StateDataTransfer
	return s.sendResponse(RespChunkOk, nil)
}

func (s *Session) handleUploadComplete() (Response, error) {
	if !s.upload.InProgress {
		s.errorsCount++
		return s.sendResponse(RespErrorInvalidState, nil)
	}
	s.upload.InProgress = false
	s.state = StateUploadComplete
	logging.Info("Upload complete",
		zap.Uint32("bytes_received", s.upload.BytesReceived),
		zap.Uint16("chunks", s.upload.CurrentChunk),
	)
	return s.sendResponse(RespUploadSuccess, nil)
}

func (s *Session) handleReset() (Response, error) {
	resp, err := s.sendResponse(RespResetting, nil)
	s.ResetSession()
	return resp, err
}

func (s *Session) sendResponse(resp Response, data []byte) (Response, error) {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(resp))
	payload = append(payload, data...)

	encoded, err := frame.Encode(payload)
	if err != nil {
		s.errorsCount++
		return RespErrorInvalidData, fmt.Errorf("encode response: %w", err)
	}
	if err := s.tr.Send(encoded, responseTimeoutMs); err != nil {
		s.errorsCount++
		return RespErrorHardware, fmt.Errorf("send response: %w", err)
	}
	s.messagesSent++
	if s.frameLog {
		logging.LogFrame("tx", payload)
	}
	logging.Debug("Response sent", zap.Stringer("response", resp))
	return resp, nil
}

// ResetSession drops all session and upload state back to idle. Counters
// are preserved.
func (s *Session) ResetSession() {
	s.state = StateIdle
	s.upload = Upload{}
	s.parser.Reset()
}

// State returns the session state.
func (s *Session) State() State { return s.state }

// Upload returns a copy of the upload bookkeeping.
func (s *Session) Upload() Upload { return s.upload }

// Ready reports whether a handshake has occurred.
func (s *Session) Ready() bool { return s.state >= StateSync && s.state != StateError }

// Stats are the session's lifetime counters.
type Stats struct {
	MessagesReceived uint32
	MessagesSent     uint32
	Errors           uint32
}

// GetStats returns the session counters.
func (s *Session) GetStats() Stats {
	return Stats{
		MessagesReceived: s.messagesReceived,
		MessagesSent:     s.messagesSent,
		Errors:           s.errorsCount,
	}
}

// IdleFor returns milliseconds since the last received byte.
func (s *Session) IdleFor() uint32 {
	return tick.Elapsed(s.lastActivity, s.clock.Now())
}

func saturate16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
