// Package autosave implements the editor-side save pipeline: a debounced
// state machine that proposes writes to the document API, classifies the
// outcome and drives conflict resolution. At most one write per document is
// in flight at any time.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/draft"
	"go.uber.org/zap"
)

// State of the controller.
type State string

const (
	StateIdle     State = "idle"
	StateDirty    State = "dirty"
	StateSaving   State = "saving"
	StateSaved    State = "saved"
	StateConflict State = "conflict"
	StateFailed   State = "failed"
)

const (
	DefaultDebounce    = 2000 * time.Millisecond
	DefaultSaveTimeout = 10 * time.Second
)

var (
	ErrClosed          = errors.New("autosave: controller closed")
	ErrConflictPending = errors.New("autosave: unresolved conflict")
	ErrNoConflict      = errors.New("autosave: no conflict to resolve")
	ErrNoDraft         = errors.New("autosave: no draft to recover")
)

// Backend is the document API as seen by the editor.
type Backend interface {
	Fetch(ctx context.Context, documentID string) (*document.Document, error)
	Write(ctx context.Context, req document.WriteRequest) (*document.WriteResult, error)
}

// Options tune a Controller. Zero values take the defaults.
type Options struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	// EditorID is sent with every write as the acting user.
	EditorID string
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Snapshot is the observable state of a Controller.
type Snapshot struct {
	DocumentID string
	State      State
	// Version is the server version the editor content is based on.
	Version     int
	Content     string
	LastSavedAt time.Time
	Conflict    *Conflict
	LastError   error
	// Draft holds recovered content awaiting ApplyDraft or DiscardDraft.
	Draft *string
}

// Controller is the auto-save state machine for one open document.
type Controller struct {
	backend Backend
	drafts  *draft.Cache
	opts    Options
	logger  *zap.Logger
	docID   string

	mu           sync.Mutex
	state        State
	content      string
	version      int
	savedContent string
	lastSavedAt  time.Time
	conflict     *Conflict
	lastErr      error
	pendingDraft *string
	timer        *time.Timer
	gen          uint64
	queuedManual bool
	closed       bool
	saves        sync.WaitGroup

	subs   map[int]func(Snapshot)
	nextID int
	queue  []Snapshot
	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}

	// latest draft write not yet handed to the draft store; older ones are
	// superseded
	draftNext   *draftOp
	draftWake   chan struct{}
	draftExited chan struct{}
}

type draftOp struct {
	content string
	clear   bool
}

// Open fetches the document and returns a controller in the idle state. A
// cached draft that differs from the server content is offered through
// Snapshot.Draft and never applied implicitly. drafts may be nil.
func Open(ctx context.Context, backend Backend, drafts *draft.Cache, documentID string, opts Options) (*Controller, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	doc, err := backend.Fetch(ctx, documentID)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		backend:      backend,
		drafts:       drafts,
		opts:         opts,
		logger:       opts.Logger.Named("Autosave").With(zap.String("documentID", doc.ID)),
		docID:        doc.ID,
		state:        StateIdle,
		content:      doc.Content,
		version:      doc.Version,
		savedContent: doc.Content,
		lastSavedAt:  doc.UpdatedAt,
		subs:         make(map[int]func(Snapshot)),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		draftWake:    make(chan struct{}, 1),
		draftExited:  make(chan struct{}),
	}

	if drafts != nil {
		content, ok, err := drafts.Restore(ctx, doc.ID)
		switch {
		case err != nil:
			c.logger.Warn("draft lookup failed", zap.Error(err))
		case ok && content != doc.Content:
			c.pendingDraft = &content
			c.logger.Info("unsaved draft found", zap.Int("size", len(content)))
		case ok:
			c.runDraftOp(draftOp{clear: true})
		}
	}

	go c.dispatch()
	go c.writeDrafts()
	return c, nil
}

// DocumentID returns the id of the controlled document.
func (c *Controller) DocumentID() string { return c.docID }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change, delivered in order on a
// dedicated goroutine. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// OnContentChange records new editor content, backs it up to the draft cache
// and (re)starts the debounce timer. While a write is in flight the edit is
// held and picked up when the write resolves. During a conflict autosave stays
// blocked.
func (c *Controller) OnContentChange(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.content = content
	c.saveDraft(content)

	switch c.state {
	case StateSaving, StateConflict:
	default:
		c.state = StateDirty
		c.scheduleLocked()
	}
	c.notifyLocked()
}

// OnManualSave saves immediately, bypassing the debounce. A request made while
// a write is in flight runs as soon as that write resolves.
func (c *Controller) OnManualSave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	switch c.state {
	case StateConflict:
		return ErrConflictPending
	case StateSaving:
		c.queuedManual = true
		return nil
	}
	if c.content == c.savedContent {
		c.settleLocked()
		return nil
	}
	c.startSaveLocked(false)
	return nil
}

// settleLocked handles a save request for content the server already has.
func (c *Controller) settleLocked() {
	if c.state != StateDirty && c.state != StateFailed {
		return
	}
	c.stopTimerLocked()
	c.state = StateSaved
	c.lastErr = nil
	c.clearDraft()
	c.notifyLocked()
}

// OnConflictResolved applies the user's choice for the current conflict.
func (c *Controller) OnConflictResolved(ctx context.Context, r Resolution) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConflict || c.conflict == nil {
		c.mu.Unlock()
		return ErrNoConflict
	}
	c.logger.Info("conflict resolved", zap.Stringer("resolution", r))

	switch r {
	case Dismiss:
		c.conflict.Dismissed = true
		c.notifyLocked()
		c.mu.Unlock()
		return nil
	case ForceSave:
		c.startSaveLocked(true)
		c.mu.Unlock()
		return nil
	case Reload:
		c.mu.Unlock()
		return c.reload(ctx)
	}
	c.mu.Unlock()
	return errors.New("autosave: unknown resolution")
}

func (c *Controller) reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SaveTimeout)
	defer cancel()
	doc, err := c.backend.Fetch(ctx, c.docID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err
		c.logger.Warn("reload failed", zap.Error(err))
		c.notifyLocked()
		return err
	}
	if c.state != StateConflict {
		return ErrNoConflict
	}
	c.stopTimerLocked()
	c.content = doc.Content
	c.savedContent = doc.Content
	c.version = doc.Version
	c.lastSavedAt = doc.UpdatedAt
	c.conflict = nil
	c.lastErr = nil
	c.pendingDraft = nil
	c.state = StateIdle
	c.clearDraft()
	c.notifyLocked()
	return nil
}

// PendingDraft returns recovered draft content, if one is on offer.
func (c *Controller) PendingDraft() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingDraft == nil {
		return "", false
	}
	return *c.pendingDraft, true
}

// ApplyDraft replaces the editor content with the recovered draft. The draft
// is then saved like any other edit.
func (c *Controller) ApplyDraft() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.pendingDraft == nil {
		c.mu.Unlock()
		return ErrNoDraft
	}
	content := *c.pendingDraft
	c.pendingDraft = nil
	c.mu.Unlock()
	c.OnContentChange(content)
	return nil
}

// DiscardDraft drops the recovery offer and the cached draft.
func (c *Controller) DiscardDraft() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.pendingDraft == nil {
		return ErrNoDraft
	}
	c.pendingDraft = nil
	if c.content == c.savedContent {
		c.clearDraft()
	}
	c.notifyLocked()
	return nil
}

// Close tears the controller down. Pending edits get one last synchronous save
// attempt; if it fails they remain in the draft cache. In-flight writes are
// awaited until ctx ends. Queued draft writes are flushed before Close returns.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		c.saves.Wait()
		close(waited)
	}()
	var err error
	select {
	case <-waited:
		err = c.finalSave(ctx)
	case <-ctx.Done():
		err = ctx.Err()
	}

	close(c.done)
	<-c.exited
	<-c.draftExited
	return err
}

func (c *Controller) finalSave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConflict || c.content == c.savedContent {
		c.mu.Unlock()
		return nil
	}
	content, version := c.content, c.version
	c.state = StateSaving
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("final save on close")
	res, err := c.write(ctx, content, version, false)
	c.finishSave(content, res, err)
	return err
}

func (c *Controller) scheduleLocked() {
	c.stopTimerLocked()
	gen := c.gen
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(gen) })
}

func (c *Controller) stopTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed || c.state != StateDirty {
		return
	}
	c.timer = nil
	if c.content == c.savedContent {
		c.settleLocked()
		return
	}
	c.startSaveLocked(false)
}

func (c *Controller) startSaveLocked(force bool) {
	c.stopTimerLocked()
	content := c.content
	expected := c.version
	if force && c.conflict != nil {
		expected = c.conflict.CurrentVersion
	}
	c.state = StateSaving
	c.saves.Add(1)
	c.notifyLocked()

	go func() {
		defer c.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
		defer cancel()
		res, err := c.write(ctx, content, expected, force)
		c.finishSave(content, res, err)
	}()
}

func (c *Controller) write(ctx context.Context, content string, expected int, force bool) (*document.WriteResult, error) {
	return c.backend.Write(ctx, document.WriteRequest{
		DocumentID:      c.docID,
		Content:         content,
		ExpectedVersion: expected,
		Force:           force,
		EditorID:        c.opts.EditorID,
	})
}

// finishSave classifies the outcome of a write of content.
func (c *Controller) finishSave(content string, res *document.WriteResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	manual := c.queuedManual
	c.queuedManual = false
	changed := c.content != content

	if ce, ok := document.AsConflict(err); ok {
		c.state = StateConflict
		c.lastErr = err
		c.conflict = &Conflict{
			DocumentID:      c.docID,
			ExpectedVersion: ce.Expected,
			CurrentVersion:  ce.Current,
			LocalContent:    c.content,
			ServerContent:   ce.CurrentContent,
			ServerUpdatedAt: ce.UpdatedAt,
			ServerUpdatedBy: ce.UpdatedBy,
		}
		c.logger.Info("save conflict", zap.Int("expected", ce.Expected), zap.Int("current", ce.Current))
		c.notifyLocked()
		return
	}

	if err != nil {
		c.lastErr = err
		c.state = StateFailed
		c.logger.Warn("save failed", zap.Error(err), zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)))
		if changed && !c.closed {
			c.state = StateDirty
			c.scheduleLocked()
		}
		c.notifyLocked()
		return
	}

	c.version = res.Version
	c.savedContent = content
	c.lastSavedAt = c.opts.Clock()
	c.conflict = nil
	c.lastErr = nil
	c.logger.Debug("saved", zap.Int("version", res.Version))

	switch {
	case !changed:
		c.state = StateSaved
		c.clearDraft()
	case c.closed:
		c.state = StateDirty
	case manual:
		c.startSaveLocked(false)
		return
	default:
		c.state = StateDirty
		c.scheduleLocked()
	}
	c.notifyLocked()
}

// saveDraft and clearDraft only queue the operation; writeDrafts performs the
// store I/O without holding c.mu.
func (c *Controller) saveDraft(content string) {
	c.queueDraftLocked(draftOp{content: content})
}

func (c *Controller) clearDraft() {
	c.queueDraftLocked(draftOp{clear: true})
}

func (c *Controller) queueDraftLocked(op draftOp) {
	if c.drafts == nil {
		return
	}
	c.draftNext = &op
	select {
	case c.draftWake <- struct{}{}:
	default:
	}
}

func (c *Controller) writeDrafts() {
	defer close(c.draftExited)
	for {
		select {
		case <-c.draftWake:
			c.flushDraft()
		case <-c.done:
			c.flushDraft()
			return
		}
	}
}

func (c *Controller) flushDraft() {
	c.mu.Lock()
	op := c.draftNext
	c.draftNext = nil
	c.mu.Unlock()
	if op != nil {
		c.runDraftOp(*op)
	}
}

func (c *Controller) runDraftOp(op draftOp) {
	if c.drafts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
	defer cancel()
	if op.clear {
		if err := c.drafts.Clear(ctx, c.docID); err != nil {
			c.logger.Warn("draft clear failed", zap.Error(err))
		}
		return
	}
	if err := c.drafts.Save(ctx, c.docID, op.content); err != nil {
		c.logger.Warn("draft save failed", zap.Error(err))
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		DocumentID:  c.docID,
		State:       c.state,
		Version:     c.version,
		Content:     c.content,
		LastSavedAt: c.lastSavedAt,
		LastError:   c.lastErr,
	}
	if c.conflict != nil {
		cf := *c.conflict
		cf.LocalContent = c.content
		s.Conflict = &cf
	}
	if c.pendingDraft != nil {
		d := *c.pendingDraft
		s.Draft = &d
	}
	return s
}

func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	c.queue = append(c.queue, c.snapshotLocked())
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) dispatch() {
	defer close(c.exited)
	for {
		select {
		case <-c.wake:
			c.deliver()
		case <-c.done:
			c.deliver()
			return
		}
	}
}

func (c *Controller) deliver() {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, s := range queue {
		for _, fn := range subs {
			fn(s)
		}
	}
}
