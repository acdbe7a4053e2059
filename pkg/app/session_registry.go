package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sipeed/agentc/pkg/domain"
	agentdomain "github.com/sipeed/agentc/pkg/domain/agent"
	"github.com/sipeed/agentc/pkg/domain/media"
	"github.com/sipeed/agentc/pkg/domain/message"
	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
	"github.com/sipeed/agentc/pkg/logger"
)

// ---------------------------------------------------------------------------
// Session registry
// ---------------------------------------------------------------------------

// SessionRegistry owns the chat sessions a client can switch between and
// routes streamed protocol events into the active session's transcript.
// The active session is a non-owning reference by id.
type SessionRegistry struct {
	out       events.Bus
	assembler *message.Assembler

	mu        sync.Mutex
	sessions  map[domain.EntityID]*sessiondomain.ChatSession
	order     []domain.EntityID
	currentID domain.EntityID
	pending   *message.Metadata

	// saveMu serializes SaveTo so two saves never reconcile against each
	// other's writes.
	saveMu sync.Mutex

	in   events.Bus
	subs []subscription
}

type subscription struct {
	name events.Name
	id   events.ListenerID
}

// NewSessionRegistry creates an empty registry publishing on out.
func NewSessionRegistry(out events.Bus) *SessionRegistry {
	return &SessionRegistry{
		out:       out,
		assembler: message.NewAssembler(),
		sessions:  make(map[domain.EntityID]*sessiondomain.ChatSession),
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// CreateSession adds a new empty session and returns its id.
func (r *SessionRegistry) CreateSession(name string, metadata domain.Metadata) domain.EntityID {
	sess := sessiondomain.New(name, metadata)

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.order = append(r.order, sess.ID)
	list := r.summariesLocked()
	r.mu.Unlock()

	logger.InfoCF("session", "Session created", map[string]interface{}{
		"session_id": sess.ID.String(),
		"name":       name,
	})
	r.out.Emit(sessiondomain.ListUpdated{Sessions: list})
	return sess.ID
}

// SetCurrentSession makes id the active session. An empty id clears the
// active session.
func (r *SessionRegistry) SetCurrentSession(id domain.EntityID) error {
	r.mu.Lock()
	if !id.IsZero() {
		if _, ok := r.sessions[id]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", sessiondomain.ErrSessionNotFound, id)
		}
	}
	previous := r.currentID
	if previous == id {
		r.mu.Unlock()
		return nil
	}
	// Discard before publishing the new id so a stream for the new session
	// cannot start in between.
	discarded := r.assembler.ResetIfStreaming()
	r.currentID = id
	r.pending = nil
	r.mu.Unlock()

	if discarded {
		logger.WarnCF("session", "Active session changed mid-stream, discarding message", map[string]interface{}{
			"previous_session_id": previous.String(),
		})
	}

	logger.DebugCF("session", "Active session changed", map[string]interface{}{
		"previous_session_id": previous.String(),
		"session_id":          id.String(),
	})
	r.out.Emit(sessiondomain.Changed{
		PreviousSessionID: previous.String(),
		CurrentSessionID:  id.String(),
	})
	return nil
}

// DeleteSession removes a session and reports whether it existed. Deleting
// the active session clears the active reference.
func (r *SessionRegistry) DeleteSession(id domain.EntityID) bool {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	wasCurrent := r.currentID == id
	if wasCurrent {
		r.currentID = ""
		r.pending = nil
	}
	list := r.summariesLocked()
	r.mu.Unlock()

	logger.InfoCF("session", "Session deleted", map[string]interface{}{
		"session_id": id.String(),
	})
	if wasCurrent {
		r.assembler.Reset()
		r.out.Emit(sessiondomain.Changed{PreviousSessionID: id.String()})
	}
	r.out.Emit(sessiondomain.ListUpdated{Sessions: list})
	return true
}

// ClearSessionMessages empties one transcript and reports whether the
// session existed.
func (r *SessionRegistry) ClearSessionMessages(id domain.EntityID) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		sess.ClearMessages()
	}
	r.mu.Unlock()
	return ok
}

// ClearAllSessions removes every session and clears the active reference.
func (r *SessionRegistry) ClearAllSessions() {
	r.mu.Lock()
	previous := r.currentID
	r.sessions = make(map[domain.EntityID]*sessiondomain.ChatSession)
	r.order = nil
	r.currentID = ""
	r.pending = nil
	r.mu.Unlock()

	r.assembler.Reset()
	logger.InfoC("session", "All sessions cleared")
	if !previous.IsZero() {
		r.out.Emit(sessiondomain.Changed{PreviousSessionID: previous.String()})
	}
	r.out.Emit(sessiondomain.ListUpdated{Sessions: []sessiondomain.Summary{}})
}

// ---------------------------------------------------------------------------
// Transcript
// ---------------------------------------------------------------------------

// AddMessage appends msg to a session. A missing session is logged and the
// message dropped; this happens legitimately when a session is deleted
// while its stream is still arriving.
func (r *SessionRegistry) AddMessage(id domain.EntityID, msg message.Message) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		sess.AddMessage(msg)
	}
	r.mu.Unlock()

	if !ok {
		logger.WarnCF("session", "Dropping message for unknown session", map[string]interface{}{
			"session_id": id.String(),
			"message_id": msg.ID.String(),
		})
		return
	}
	r.out.Emit(sessiondomain.MessageAdded{SessionID: id.String(), Message: msg.Clone()})
}

// GetMessageHistory returns a copy of a session's transcript, or nil if
// the session does not exist.
func (r *SessionRegistry) GetMessageHistory(id domain.EntityID) []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return sess.History()
}

// ---------------------------------------------------------------------------
// Queries and edits
// ---------------------------------------------------------------------------

// GetSession returns a copy of a session.
func (r *SessionRegistry) GetSession(id domain.EntityID) (*sessiondomain.ChatSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// GetCurrentSession returns a copy of the active session, or nil.
func (r *SessionRegistry) GetCurrentSession() *sessiondomain.ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[r.currentID]
	if !ok {
		return nil
	}
	return sess.Clone()
}

// CurrentSessionID returns the active session id, empty when none.
func (r *SessionRegistry) CurrentSessionID() domain.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

// ListSessions returns session summaries in creation order.
func (r *SessionRegistry) ListSessions() []sessiondomain.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summariesLocked()
}

// SessionCount returns the number of sessions.
func (r *SessionRegistry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RenameSession changes a session's display name.
func (r *SessionRegistry) RenameSession(id domain.EntityID, name string) error {
	if err := r.update(id, func(s *sessiondomain.ChatSession) { s.Rename(name) }); err != nil {
		return err
	}
	r.out.Emit(sessiondomain.ListUpdated{Sessions: r.ListSessions()})
	return nil
}

// SetSessionMetadata writes one metadata key on a session.
func (r *SessionRegistry) SetSessionMetadata(id domain.EntityID, key string, value interface{}) error {
	return r.update(id, func(s *sessiondomain.ChatSession) { s.SetMetadata(key, value) })
}

// UpdateAgentConfig replaces a session's agent configuration and with it
// the tool access policy.
func (r *SessionRegistry) UpdateAgentConfig(id domain.EntityID, cfg *agentdomain.Config) error {
	return r.update(id, func(s *sessiondomain.ChatSession) { s.SetAgentConfig(cfg) })
}

// CanExecuteTool evaluates the active session's tool access policy. With
// no active session there is no policy and every tool is permitted.
func (r *SessionRegistry) CanExecuteTool(name string) bool {
	return r.evaluateTool(name).Allowed
}

func (r *SessionRegistry) evaluateTool(name string) agentdomain.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cfg *agentdomain.Config
	if sess, ok := r.sessions[r.currentID]; ok {
		cfg = sess.AgentConfig
	}
	return cfg.ToolPolicy().Evaluate(name)
}

func (r *SessionRegistry) update(id domain.EntityID, fn func(*sessiondomain.ChatSession)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", sessiondomain.ErrSessionNotFound, id)
	}
	fn(sess)
	return nil
}

// summariesLocked lists sessions in creation order; caller holds r.mu.
func (r *SessionRegistry) summariesLocked() []sessiondomain.Summary {
	out := make([]sessiondomain.Summary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Summary())
	}
	return out
}

// ---------------------------------------------------------------------------
// Export / import
// ---------------------------------------------------------------------------

// ExportSession returns the export record of a session.
func (r *SessionRegistry) ExportSession(id domain.EntityID) (sessiondomain.Export, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return sessiondomain.Export{}, fmt.Errorf("%w: %s", sessiondomain.ErrSessionNotFound, id)
	}
	return sess.Export(), nil
}

// ExportAll returns every session's export record in creation order.
func (r *SessionRegistry) ExportAll() []sessiondomain.Export {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sessiondomain.Export, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].Export())
	}
	return out
}

// ImportSession adds or replaces a session from its export record. An
// existing session with the same id keeps its position in the list.
func (r *SessionRegistry) ImportSession(e sessiondomain.Export) (domain.EntityID, error) {
	id, err := r.importOne(e)
	if err != nil {
		return "", err
	}
	r.out.Emit(sessiondomain.ListUpdated{Sessions: r.ListSessions()})
	return id, nil
}

// ImportSessions imports records in order and returns how many succeeded.
// Invalid records are skipped; their errors are joined.
func (r *SessionRegistry) ImportSessions(records []sessiondomain.Export) (int, error) {
	var errs []error
	n := 0
	for i, e := range records {
		if _, err := r.importOne(e); err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		n++
	}
	if n > 0 {
		r.out.Emit(sessiondomain.ListUpdated{Sessions: r.ListSessions()})
	}
	return n, errors.Join(errs...)
}

func (r *SessionRegistry) importOne(e sessiondomain.Export) (domain.EntityID, error) {
	sess, err := sessiondomain.FromExport(e)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if _, exists := r.sessions[sess.ID]; !exists {
		r.order = append(r.order, sess.ID)
	}
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	logger.DebugCF("session", "Session imported", map[string]interface{}{
		"session_id": sess.ID.String(),
		"messages":   sess.MessageCount(),
	})
	return sess.ID, nil
}

// SaveTo writes every session to repo and deletes stored records of
// sessions the registry no longer holds, so deletions survive a reload.
func (r *SessionRegistry) SaveTo(repo sessiondomain.Repository) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	records := r.ExportAll()
	keep := make(map[string]struct{}, len(records))
	for _, e := range records {
		if err := repo.Save(e); err != nil {
			return fmt.Errorf("save session %s: %w", e.ID, err)
		}
		keep[e.ID] = struct{}{}
	}

	stored, err := repo.FindAll()
	if err != nil {
		return fmt.Errorf("list stored sessions: %w", err)
	}
	removed := 0
	for _, e := range stored {
		if _, ok := keep[e.ID]; ok {
			continue
		}
		if err := repo.Delete(e.ID); err != nil && !errors.Is(err, sessiondomain.ErrSessionNotFound) {
			return fmt.Errorf("delete stored session %s: %w", e.ID, err)
		}
		removed++
	}

	logger.DebugCF("session", "Sessions saved", map[string]interface{}{
		"count":   len(records),
		"removed": removed,
	})
	return nil
}

// DiscardStream drops any message being assembled and any pending
// completion metadata.
func (r *SessionRegistry) DiscardStream() {
	r.mu.Lock()
	discarded := r.assembler.ResetIfStreaming()
	r.pending = nil
	r.mu.Unlock()

	if discarded {
		logger.WarnC("session", "Discarding message in progress")
	}
}

// LoadFrom imports every session stored in repo.
func (r *SessionRegistry) LoadFrom(repo sessiondomain.Repository) (int, error) {
	records, err := repo.FindAll()
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	return r.ImportSessions(records)
}

// ---------------------------------------------------------------------------
// Event ingestion
// ---------------------------------------------------------------------------

// Attach subscribes the registry to the transcript events on in. Calling
// Attach again moves the subscriptions to the new bus.
func (r *SessionRegistry) Attach(in events.Bus) {
	r.Detach()
	r.in = in
	r.subs = []subscription{
		{events.TextStart, eventbus.Listen(in, r.onTextStart)},
		{events.TextDelta, eventbus.Listen(in, r.onTextDelta)},
		{events.TextEnd, eventbus.Listen(in, r.onTextEnd)},
		{events.ThoughtDelta, eventbus.Listen(in, r.onThoughtDelta)},
		{events.Completion, eventbus.Listen(in, r.onCompletion)},
		{events.ToolCall, eventbus.Listen(in, r.onToolCall)},
		{events.UserInput, eventbus.Listen(in, r.onUserInput)},
		{events.RenderMedia, eventbus.Listen(in, r.onRenderMedia)},
		{events.SystemMessage, eventbus.Listen(in, r.onSystemMessage)},
		{events.ChatSessionChanged, eventbus.Listen(in, r.onChatSessionChanged)},
		{events.AgentConfigurationChanged, eventbus.Listen(in, r.onAgentConfigurationChanged)},
	}
}

// Detach removes the subscriptions made by Attach.
func (r *SessionRegistry) Detach() {
	if r.in == nil {
		return
	}
	for _, s := range r.subs {
		r.in.Off(s.name, s.id)
	}
	r.in = nil
	r.subs = nil
}

// IsStreaming reports whether a message is being assembled.
func (r *SessionRegistry) IsStreaming() bool {
	return r.assembler.IsStreaming()
}

// active returns the active session id; ok is false when there is nowhere
// to route an event.
func (r *SessionRegistry) active() (domain.EntityID, bool) {
	id := r.CurrentSessionID()
	return id, !id.IsZero()
}

func (r *SessionRegistry) onTextStart(message.TextStartPayload) {
	if _, ok := r.active(); !ok {
		return
	}
	r.commitThought()
	r.assembler.StartMessage(string(domain.RoleAssistant))
}

func (r *SessionRegistry) onTextDelta(p message.TextDeltaPayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	r.commitThought()
	snap := r.assembler.AppendText(p.Content)
	r.out.Emit(sessiondomain.Streaming{
		SessionID: id.String(),
		MessageID: snap.ID.String(),
		Delta:     p.Content,
		Type:      snap.Type,
	})
}

func (r *SessionRegistry) onThoughtDelta(p message.ThoughtDeltaPayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	if cur, streaming := r.assembler.Current(); !streaming || cur.Type != message.TypeThought {
		if streaming {
			r.finalizeInto(id)
		}
		r.assembler.StartMessage(message.KindThought)
	}
	snap := r.assembler.AppendText(p.Content)
	r.out.Emit(sessiondomain.Streaming{
		SessionID: id.String(),
		MessageID: snap.ID.String(),
		Delta:     p.Content,
		Type:      snap.Type,
	})
}

func (r *SessionRegistry) onTextEnd(message.TextEndPayload) {
	id, ok := r.active()
	if !ok {
		r.assembler.Reset()
		return
	}
	if !r.assembler.IsStreaming() {
		logger.WarnC("session", "text_end without a message in progress")
		return
	}
	r.finalizeInto(id)
}

// commitThought finalizes a streaming thought so assistant text starts a
// separate message.
func (r *SessionRegistry) commitThought() {
	cur, ok := r.assembler.Current()
	if !ok || cur.Type != message.TypeThought {
		return
	}
	if id, ok := r.active(); ok {
		r.finalizeInto(id)
	}
}

func (r *SessionRegistry) finalizeInto(id domain.EntityID) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	msg, err := r.assembler.Finalize(pending)
	if err != nil {
		logger.WarnCF("session", "Finalize failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	r.AddMessage(id, msg)
}

func (r *SessionRegistry) onCompletion(p message.CompletionPayload) {
	if p.Running {
		logger.DebugC("session", "Completion started")
		return
	}
	id, ok := r.active()
	if !ok {
		return
	}

	r.mu.Lock()
	if sess, exists := r.sessions[id]; exists {
		sess.AddTokens(p.InputTokens, p.OutputTokens)
	}
	if r.pending == nil {
		r.pending = &message.Metadata{}
	}
	r.pending.InputTokens += p.InputTokens
	r.pending.OutputTokens += p.OutputTokens
	if p.StopReason != "" {
		r.pending.StopReason = p.StopReason
	}
	r.mu.Unlock()

	logger.DebugCF("session", "Completion recorded", map[string]interface{}{
		"session_id":    id.String(),
		"input_tokens":  p.InputTokens,
		"output_tokens": p.OutputTokens,
		"stop_reason":   p.StopReason,
	})
}

func (r *SessionRegistry) onToolCall(p message.ToolCallPayload) {
	if _, ok := r.active(); !ok {
		return
	}
	if len(p.ToolCalls) == 0 && len(p.ToolResults) == 0 {
		return
	}

	calls := make([]message.ToolCall, len(p.ToolCalls))
	for i, tc := range p.ToolCalls {
		calls[i] = tc
		d := r.evaluateTool(tc.Name)
		if d.Allowed {
			continue
		}
		calls[i].Blocked = true
		calls[i].BlockedBy = d.Pattern
		if calls[i].BlockedBy == "" {
			calls[i].BlockedBy = d.Reason
		}
		logger.WarnCF("session", "Tool call blocked by policy", map[string]interface{}{
			"tool":    tc.Name,
			"call_id": tc.ID,
			"reason":  d.Reason,
			"pattern": d.Pattern,
		})
	}

	if !r.assembler.IsStreaming() {
		r.assembler.StartMessage(string(domain.RoleAssistant))
	}
	r.assembler.AddToolCalls(calls...)
	r.assembler.AddToolResults(p.ToolResults...)
}

func (r *SessionRegistry) onUserInput(p message.UserInputPayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	r.AddMessage(id, message.NewUserMessage(p.Content, p.Timestamp.Time()))
}

func (r *SessionRegistry) onRenderMedia(p media.RenderMediaPayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	logger.DebugCF("session", "Media received", map[string]interface{}{
		"content_type": p.ContentType,
		"foreign":      p.IsForeign(),
	})
	r.AddMessage(id, message.NewMediaMessage(p, domain.Now()))
}

func (r *SessionRegistry) onSystemMessage(p events.SystemMessagePayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	r.AddMessage(id, message.NewSystemMessage(p.Content, p.Severity, domain.Now()))
}

func (r *SessionRegistry) onChatSessionChanged(p sessiondomain.ChatSessionChangedPayload) {
	id, err := r.ImportSession(p.ChatSession)
	if err != nil {
		logger.WarnCF("session", "Ignoring invalid chat_session_changed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if err := r.SetCurrentSession(id); err != nil {
		logger.WarnCF("session", "Cannot activate imported session", map[string]interface{}{
			"session_id": id.String(),
			"error":      err.Error(),
		})
	}
}

func (r *SessionRegistry) onAgentConfigurationChanged(p agentdomain.ConfigurationChangedPayload) {
	id, ok := r.active()
	if !ok {
		return
	}
	cfg := p.AgentConfig
	if err := r.UpdateAgentConfig(id, &cfg); err != nil {
		logger.WarnCF("session", "Cannot apply agent configuration", map[string]interface{}{
			"session_id": id.String(),
			"error":      err.Error(),
		})
		return
	}
	logger.InfoCF("session", "Agent configuration updated", map[string]interface{}{
		"session_id": id.String(),
		"agent_key":  cfg.Key,
	})
}
