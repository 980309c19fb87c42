package demo

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"macagent/internal/console"
	"macagent/internal/demoarchive"
	"macagent/internal/demowatch"
	"macagent/internal/eventloop"
	"macagent/internal/logging"
	"macagent/internal/match"
	"macagent/internal/upload"
)

// openDemo mirrors spec.md §3's OpenDemo: the currently-tracked demo file,
// its bit-framing cursor, and its upload session (if any).
type openDemo struct {
	path   string
	id     uint64
	header *Header
	buf    []byte
	bitPos int

	uploadedBytes       int
	sessionRequested    bool
	session             *upload.Session
	uploadUnrecoverable bool
	abandoned           bool

	// writer archives every raw byte and decoded event for this demo to
	// disk as it arrives, independent of upload status (§4.F/§4.G).
	writer *demoarchive.Writer
}

// maxPreviousDemos bounds how many finalized demos the manager keeps
// around (for diagnostics/UI) before discarding the oldest.
const maxPreviousDemos = 5

// DemoMessage carries one event of interest extracted from the demo
// stream (§4.F step 3). It has no Apply step: component L (httpapi) fans
// these out over SSE directly rather than folding them into match.State.
type DemoMessage struct {
	DemoID uint64
	Tick   int32
	Event  Event
}

// Kind implements eventloop.Message.
func (DemoMessage) Kind() string { return "demo.event" }

// sessionOpenResultMsg is the internal continuation of an upload-session
// open Future; Manager folds it into the matching openDemo.
type sessionOpenResultMsg struct {
	demoID  uint64
	session *upload.Session
	err     error
}

// Kind implements eventloop.Message.
func (sessionOpenResultMsg) Kind() string { return "demo.session_open_result" }

// Manager owns the current OpenDemo, its upload session, and the
// entity-id <-> steamid map used to resolve vote-cast voters (§4.F).
// All of its fields are mutated only inside Handle, which the event loop
// always calls on its single goroutine — the same single-writer
// discipline match.State relies on — so Manager needs no mutex of its
// own; only upload.Session (shared with spawned Futures) is internally
// locked.
type Manager struct {
	log        *logging.Logger
	httpClient *http.Client
	recorder   *demoarchive.Recorder
	spoolDir   string

	entityToSteam map[int]match.SteamID
	current       *openDemo
	previous      []*openDemo
}

// NewManager constructs a demo manager. recorder may be nil to disable
// spillover buffering of chunks that arrive before an upload session is
// usable. spoolDir, if non-empty, is where every tracked demo's raw bytes
// and decoded events are continuously archived via demoarchive.Writer; an
// empty spoolDir disables that archival.
func NewManager(log *logging.Logger, recorder *demoarchive.Recorder, httpClient *http.Client, spoolDir string) *Manager {
	if log == nil {
		log = logging.L()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		log:           log,
		httpClient:    httpClient,
		recorder:      recorder,
		spoolDir:      spoolDir,
		entityToSteam: make(map[int]match.SteamID),
	}
}

// Handle implements eventloop.Handler[match.State].
func (m *Manager) Handle(state *match.State, msg eventloop.Message) []eventloop.Action {
	switch v := msg.(type) {
	case console.StatusMsg:
		m.entityToSteam[v.Fields.UserID] = v.Fields.SteamID
		return nil
	case console.G15Msg:
		for _, row := range v.Rows {
			m.entityToSteam[row.UserID] = row.SteamID
		}
		return nil
	case demowatch.ChunkMsg:
		return m.handleChunk(state, v)
	case demowatch.LateBytesMsg:
		return m.handleLateBytes(v)
	case sessionOpenResultMsg:
		return m.applySessionResult(v)
	default:
		return nil
	}
}

func (m *Manager) handleChunk(state *match.State, chunk demowatch.ChunkMsg) []eventloop.Action {
	if m.current == nil || m.current.path != chunk.Path || m.current.id != chunk.ID {
		var actions []eventloop.Action
		actions = append(actions, m.finalizeCurrent()...)
		m.current = &openDemo{path: chunk.Path, id: chunk.ID}
		m.openWriter(m.current)
		actions = append(actions, m.processChunk(state, chunk)...)
		return actions
	}
	return m.processChunk(state, chunk)
}

// openWriter opens od's continuous archival sink, if spool archiving is
// enabled. A failure to open is logged and archival is skipped for this
// demo rather than aborting the stream.
func (m *Manager) openWriter(od *openDemo) {
	if m.spoolDir == "" {
		return
	}
	w, _, err := demoarchive.NewWriter(m.spoolDir, strconv.FormatUint(od.id, 10), nil)
	if err != nil {
		m.log.Warn("demo spool writer open failed", logging.String("path", od.path), logging.Error(err))
		return
	}
	od.writer = w
}

func (m *Manager) processChunk(state *match.State, chunk demowatch.ChunkMsg) []eventloop.Action {
	od := m.current
	if od.abandoned {
		return nil
	}
	offset := int64(len(od.buf))
	od.buf = append(od.buf, chunk.Bytes...)
	if od.writer != nil {
		if err := od.writer.AppendChunk(offset, chunk.Bytes); err != nil {
			m.log.Warn("demo spool writer append failed", logging.String("path", od.path), logging.Error(err))
		}
	}

	var actions []eventloop.Action

	if od.header == nil {
		r := NewBitReader(od.buf)
		h, err := ParseHeader(r)
		switch {
		case err == ErrNotEnoughData:
			// wait for more bytes.
		case err != nil:
			m.log.Error("demo header parse failed, abandoning demo", logging.String("path", od.path), logging.Error(err))
			od.abandoned = true
			return nil
		default:
			od.header = &h
			od.bitPos = r.Pos()
		}
	}

	if od.header != nil {
		actions = append(actions, m.extractPackets(od)...)
		actions = append(actions, m.gateUpload(state, od)...)
	}

	if m.recorder != nil && od.header != nil && (od.session == nil || od.uploadUnrecoverable) {
		m.recorder.RecordChunk(offset, chunk.Bytes)
	}

	return actions
}

func (m *Manager) extractPackets(od *openDemo) []eventloop.Action {
	var actions []eventloop.Action
	r := NewBitReader(od.buf)
	r.Seek(od.bitPos)

	for {
		pkt, err := nextPacket(r)
		if err == ErrNotEnoughData {
			break
		}
		if err != nil {
			m.log.Error("demo packet parse failed, stopping until more bytes arrive", logging.String("path", od.path), logging.Error(err))
			break
		}
		od.bitPos = r.Pos()

		if evt, ok := m.decodePacket(pkt); ok {
			actions = append(actions, eventloop.Action{Message: DemoMessage{DemoID: od.id, Tick: pkt.tick, Event: evt}})
			m.appendEvent(od, pkt.tick, evt)
		}
	}
	return actions
}

// appendEvent archives a decoded event to od's writer, if archival is
// enabled for this demo. Marshal failures are not expected for the plain
// Event structs this package produces and are logged rather than dropped
// silently.
func (m *Manager) appendEvent(od *openDemo, tick int32, evt Event) {
	if od.writer == nil {
		return
	}
	line, err := json.Marshal(struct {
		Tick  int32 `json:"tick"`
		Event Event `json:"event"`
	}{Tick: tick, Event: evt})
	if err != nil {
		m.log.Warn("demo spool writer event encode failed", logging.String("path", od.path), logging.Error(err))
		return
	}
	if err := od.writer.AppendEvent(line); err != nil {
		m.log.Warn("demo spool writer event append failed", logging.String("path", od.path), logging.Error(err))
	}
}

func (m *Manager) decodePacket(pkt packet) (Event, bool) {
	switch pkt.kind {
	case packetVoteStarted:
		evt, err := decodeVoteStarted(pkt.payload)
		if err != nil {
			m.log.Warn("demo: malformed vote-started packet", logging.Error(err))
			return nil, false
		}
		return evt, true
	case packetVoteCast:
		voteIndex, entityID, option, err := decodeVoteCast(pkt.payload)
		if err != nil {
			m.log.Warn("demo: malformed vote-cast packet", logging.Error(err))
			return nil, false
		}
		voter, ok := m.entityToSteam[int(entityID)]
		if !ok {
			return nil, false
		}
		return VoteCastEvent{VoteIndex: voteIndex, Voter: voter, Option: option}, true
	default:
		return nil, false
	}
}

// gateUpload implements §4.F's upload gating: spawn the session-open task
// once a header is observed, and forward every not-yet-uploaded byte
// range to the session once it exists.
func (m *Manager) gateUpload(state *match.State, od *openDemo) []eventloop.Action {
	settings := state.Settings
	if settings == nil || settings.DontUploadDemos {
		return nil
	}

	var actions []eventloop.Action
	if !od.sessionRequested {
		od.sessionRequested = true
		cfg := upload.Config{
			Host:    settings.MasterbaseHost,
			APIKey:  settings.MasterbaseKey,
			FakeIP:  state.Server.IP,
			Map:     state.Server.Map,
			UseHTTP: settings.MasterbaseHTTP,
		}
		demoID := od.id
		client := m.httpClient
		log := m.log
		actions = append(actions, eventloop.Action{Future: func(ctx context.Context) eventloop.Message {
			session, err := upload.Open(ctx, cfg, client, log)
			return sessionOpenResultMsg{demoID: demoID, session: session, err: err}
		}})
	}

	actions = append(actions, m.flushPendingUpload(od)...)
	return actions
}

func (m *Manager) flushPendingUpload(od *openDemo) []eventloop.Action {
	if od.session == nil || od.uploadUnrecoverable {
		return nil
	}
	pending := od.buf[od.uploadedBytes:]
	if len(pending) == 0 {
		return nil
	}
	od.uploadedBytes = len(od.buf)

	session := od.session
	demoID := od.id
	payload := append([]byte(nil), pending...)
	log := m.log
	return []eventloop.Action{{Future: func(ctx context.Context) eventloop.Message {
		select {
		case <-session.Ready():
		case <-ctx.Done():
			return nil
		}
		if session.Err() != nil {
			log.Warn("demo upload: session never connected, dropping chunk", logging.Int64("demo_id", int64(demoID)), logging.Error(session.Err()))
			return nil
		}
		if err := session.SendChunk(payload); err != nil {
			log.Error("demo upload: chunk send failed", logging.Int64("demo_id", int64(demoID)), logging.Error(err))
		}
		return nil
	}}}
}

func (m *Manager) applySessionResult(res sessionOpenResultMsg) []eventloop.Action {
	if m.current == nil || m.current.id != res.demoID {
		if res.session != nil {
			go res.session.CloseWithTimeout() //nolint:errcheck // best-effort cleanup for a since-rotated demo.
		}
		return nil
	}
	if res.err != nil {
		m.log.Error("demo upload: session open failed", logging.Error(res.err))
		m.current.uploadUnrecoverable = true
		return nil
	}
	m.current.session = res.session
	return m.flushPendingUpload(m.current)
}

func (m *Manager) handleLateBytes(late demowatch.LateBytesMsg) []eventloop.Action {
	var od *openDemo
	switch {
	case m.current != nil && m.current.path == late.Path && m.current.id == late.ID:
		od = m.current
	default:
		for _, prev := range m.previous {
			if prev.path == late.Path && prev.id == late.ID {
				od = prev
				break
			}
		}
	}
	if od == nil || od.session == nil {
		return nil
	}

	session := od.session
	payload := append([]byte(nil), late.Payload...)
	log := m.log
	return []eventloop.Action{{Future: func(ctx context.Context) eventloop.Message {
		select {
		case <-session.Ready():
		case <-ctx.Done():
			return nil
		}
		if session.Err() == nil {
			if err := session.LateBytes(ctx, payload); err != nil {
				log.Warn("demo upload: late_bytes post failed", logging.Error(err))
			}
		}
		if err := session.CloseWithTimeout(); err != nil {
			log.Warn("demo upload: close_session failed", logging.Error(err))
		}
		return nil
	}}}
}

func (m *Manager) finalizeCurrent() []eventloop.Action {
	if m.current == nil {
		return nil
	}
	finished := m.current
	m.previous = append(m.previous, finished)
	if len(m.previous) > maxPreviousDemos {
		m.previous = m.previous[len(m.previous)-maxPreviousDemos:]
	}
	m.current = nil

	m.closeWriter(finished)
	m.rollRecorder(finished.id)

	if finished.session == nil {
		return nil
	}
	session := finished.session
	log := m.log
	return []eventloop.Action{{Future: func(ctx context.Context) eventloop.Message {
		if err := session.CloseWithTimeout(); err != nil {
			log.Warn("demo upload: close_session on rotation failed", logging.Error(err))
		}
		return nil
	}}}
}

func (m *Manager) closeWriter(od *openDemo) {
	if od.writer == nil {
		return
	}
	if err := od.writer.Close(); err != nil {
		m.log.Warn("demo spool writer close failed", logging.String("path", od.path), logging.Error(err))
	}
}

// rollRecorder flushes whatever the retry recorder has buffered for the
// given demo to disk. demoID of 0 labels an unattributed leftover buffer
// (e.g. at shutdown with no demo tracked). A recorder with nothing
// buffered is left untouched rather than rolling an empty artefact.
func (m *Manager) rollRecorder(demoID uint64) {
	if m.recorder == nil || m.recorder.Snapshot().BufferedChunks == 0 {
		return
	}
	path, err := m.recorder.Roll(strconv.FormatUint(demoID, 10))
	if err != nil {
		m.log.Warn("demo spool roll failed", logging.Error(err))
		return
	}
	m.log.Info("demo spool rolled to disk", logging.String("path", path), logging.Int64("demo_id", int64(demoID)))
}

// CurrentDemoID reports the logical id of the demo currently being
// tracked, or (0, false) if none is open.
func (m *Manager) CurrentDemoID() (uint64, bool) {
	if m.current == nil {
		return 0, false
	}
	return m.current.id, true
}

// Close finalizes any demo still being tracked, closing its archival
// writer and flushing the retry recorder's buffer, and shuts down its
// upload session synchronously. Call during shutdown so no buffered spool
// bytes are lost and the upload session closes cleanly.
func (m *Manager) Close() {
	if m.current == nil {
		m.rollRecorder(0)
		return
	}
	current := m.current
	m.current = nil

	m.closeWriter(current)
	m.rollRecorder(current.id)

	if current.session != nil {
		if err := current.session.CloseWithTimeout(); err != nil {
			m.log.Warn("demo upload: close_session on shutdown failed", logging.Error(err))
		}
	}
}
