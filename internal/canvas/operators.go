package canvas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kno-canvas/internal/models"
)

// ErrUnknownOperator is returned for operator names the engine does not know.
var ErrUnknownOperator = errors.New("unknown synthesis operator")

type OperatorKind string

const (
	OperatorCollider  OperatorKind = "collider"
	OperatorAlchemy   OperatorKind = "alchemy"
	OperatorSpark     OperatorKind = "spark"
	OperatorLogicScan OperatorKind = "logic_scan"
)

// Outcomes reported to the Recorder.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDiscarded = "discarded"
)

// operator describes one synthesis operator. Operators differ only in
// arity, placement and prompt; the placeholder protocol is shared.
type operator struct {
	kind            OperatorKind
	minInputs       int
	maxInputs       int // 0 means unbounded
	idPrefix        string
	nodeType        models.NodeType
	edgeType        models.EdgeType
	color           string
	width           float64
	placeholder     string
	fallbackTitle   string
	fallbackContent string
	libraryKind     models.NoteKind
}

var operators = map[OperatorKind]operator{
	OperatorCollider: {
		kind: OperatorCollider, minInputs: 2, idPrefix: "col",
		nodeType: models.NodeSynthesis, edgeType: models.EdgeConflict,
		color: "#A855F7", width: 350, placeholder: "Colliding Concepts...",
		fallbackTitle: "Synthesis", fallbackContent: "Connection found.",
		libraryKind: models.NoteKindCollision,
	},
	OperatorAlchemy: {
		kind: OperatorAlchemy, minInputs: 2, idPrefix: "alchemy",
		nodeType: models.NodeAsset, edgeType: models.EdgeSynthesis,
		color: "#10B981", width: 400, placeholder: "Alchemy in progress...",
		fallbackTitle: "Alchemical Gold", fallbackContent: "Transformation complete.",
		libraryKind: models.NoteKindAsset,
	},
	OperatorSpark: {
		kind: OperatorSpark, minInputs: 1, maxInputs: 1, idPrefix: "spark",
		nodeType: models.NodeInsight, edgeType: models.EdgeSpark,
		color: "#F59E0B", width: 300, placeholder: "Sparking Serendipity...",
		fallbackTitle: "Spark Insight", fallbackContent: "Connection established.",
		libraryKind: models.NoteKindSpark,
	},
	OperatorLogicScan: {
		kind: OperatorLogicScan, minInputs: 1, maxInputs: 1,
	},
}

const regeneratingTitle = "Regenerating..."

func (op operator) accepts(n int) bool {
	return n >= op.minInputs && (op.maxInputs == 0 || n <= op.maxInputs)
}

// place positions the output node: below the inputs' centre for the
// multi-input operators, to the right of the single input for Spark.
func (op operator) place(inputs []models.CanvasNode) models.Point {
	if op.kind == OperatorSpark {
		n := inputs[0]
		w := n.Width
		if w == 0 {
			w = DefaultNodeWidth
		}
		return models.Point{X: n.X + w + 150, Y: n.Y}
	}
	sumX, maxY := 0.0, math.Inf(-1)
	for _, n := range inputs {
		sumX += n.X
		maxY = math.Max(maxY, n.Y)
	}
	return models.Point{X: sumX / float64(len(inputs)), Y: maxY + 300}
}

func (op operator) finish(gen Generation, candidateTitle string) Generation {
	if strings.TrimSpace(gen.Title) == "" {
		gen.Title = op.fallbackTitle
	}
	if strings.TrimSpace(gen.Content) == "" {
		gen.Content = op.fallbackContent
	}
	if candidateTitle != "" {
		gen.Content = fmt.Sprintf("Connected to: %q\n\n%s", candidateTitle, gen.Content)
	}
	return gen
}

// synthesisJob is one outstanding generation. It carries ids and copies of
// the inputs, never a reference to live store content.
type synthesisJob struct {
	op            operator
	nodeID        string
	inputs        []models.CanvasNode
	regenerate    bool
	previousTitle string
	previous      string
	candidate     *ExternalItem
	// activation is the document activation the job was launched under.
	activation uint64
}

// CanRun reports whether an operator would do anything for the current
// selection; UIs use it to enable or disable operator buttons. Spark may
// still turn out inert at launch when the candidate source has nothing.
func (e *Engine) CanRun(kind OperatorKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canRunLocked(kind)
}

func (e *Engine) canRunLocked(kind OperatorKind) bool {
	op, ok := operators[kind]
	if !ok || !e.active || !op.accepts(len(e.selection)) {
		return false
	}
	if kind == OperatorLogicScan {
		return e.critic != nil
	}
	return e.generator != nil
}

// RunOperator starts a synthesis over the current selection and returns the
// id of the placeholder node, or "" when the operator is inert for this
// selection. The generation itself completes in the background.
func (e *Engine) RunOperator(ctx context.Context, kind OperatorKind) (string, error) {
	op, ok := operators[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOperator, kind)
	}
	if kind == OperatorLogicScan {
		return e.runLogicScan()
	}

	// The Spark partner is picked before anything is placed, so an empty
	// library leaves the canvas untouched.
	var sparkInput string
	var candidate *ExternalItem
	if kind == OperatorSpark {
		var exclude string
		e.mu.Lock()
		if e.canRunLocked(kind) {
			in := e.selectedNodesLocked()[0]
			sparkInput, exclude = in.ID, in.NoteID
		}
		e.mu.Unlock()
		if sparkInput != "" {
			c, ok, err := e.pickCandidate(ctx, exclude)
			if err != nil || !ok {
				return "", err
			}
			candidate = c
		}
	}

	var job *synthesisJob
	err := e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		if !e.canRunLocked(kind) {
			return nil
		}
		inputs := e.selectedNodesLocked()
		if kind == OperatorSpark && inputs[0].ID != sparkInput {
			// The selection moved while the candidate was picked.
			return nil
		}
		pos := op.place(inputs)
		id := e.newID(op.idPrefix)
		if err := e.store.AddNode(models.CanvasNode{
			ID:         id,
			Type:       op.nodeType,
			Operator:   string(kind),
			X:          pos.X,
			Y:          pos.Y,
			Width:      op.width,
			Title:      op.placeholder,
			Color:      op.color,
			IsThinking: true,
		}); err != nil {
			return err
		}
		for _, in := range inputs {
			if err := e.store.AddEdge(models.CanvasEdge{
				ID:     e.newID("e"),
				Source: in.ID,
				Target: id,
				Type:   op.edgeType,
			}); err != nil {
				return err
			}
		}
		e.selection = map[string]struct{}{}
		e.inflight[id] = kind
		e.changed()
		e.emit(Event{Kind: EventSynthesisStarted, NodeID: id, Operator: kind})

		job = &synthesisJob{op: op, nodeID: id, inputs: inputs, candidate: candidate, activation: e.activation}
		return nil
	})
	if err != nil || job == nil {
		return "", err
	}

	e.wg.Add(1)
	go e.generate(*job)
	return job.nodeID, nil
}

// Regenerate reruns the operator that produced a derived node against the
// node's current parents. The new version is appended to its history.
func (e *Engine) Regenerate(ctx context.Context, nodeID string) error {
	var candidate *ExternalItem
	if exclude, spark := e.sparkRegenerateInput(nodeID); spark {
		c, ok, err := e.pickCandidate(ctx, exclude)
		if err != nil || !ok {
			return err
		}
		candidate = c
	}

	var job *synthesisJob
	err := e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		node, ok := e.store.Node(nodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		op, ok := operators[OperatorKind(node.Operator)]
		if !ok || op.kind == OperatorLogicScan || e.generator == nil || node.IsThinking {
			return nil
		}
		parents := e.parentsLocked(nodeID)
		if len(parents) == 0 {
			return nil
		}
		_ = e.store.UpdateNode(nodeID, func(n *models.CanvasNode) {
			n.IsThinking = true
			n.Title = regeneratingTitle
		})
		e.inflight[nodeID] = op.kind
		e.changed()
		e.emit(Event{Kind: EventSynthesisStarted, NodeID: nodeID, Operator: op.kind})

		j := synthesisJob{
			op:            op,
			nodeID:        nodeID,
			inputs:        parents,
			regenerate:    true,
			previousTitle: node.Title,
			previous:      node.Content,
			candidate:     candidate,
			activation:    e.activation,
		}
		if op.kind == OperatorSpark {
			j.inputs = parents[:1]
		}
		job = &j
		return nil
	})
	if err != nil || job == nil {
		return err
	}

	e.wg.Add(1)
	go e.generate(*job)
	return nil
}

// sparkRegenerateInput reports whether regenerating nodeID would run Spark,
// and the note id its candidate must differ from.
func (e *Engine) sparkRegenerateInput(nodeID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	node, ok := e.store.Node(nodeID)
	if !ok || !e.active || e.generator == nil || node.IsThinking || OperatorKind(node.Operator) != OperatorSpark {
		return "", false
	}
	parents := e.parentsLocked(nodeID)
	if len(parents) == 0 {
		return "", false
	}
	return parents[0].NoteID, true
}

// pickCandidate asks the candidate source for a Spark partner. It runs
// outside the engine lock. ok is false when the source has none; without a
// source Spark runs on the node alone.
func (e *Engine) pickCandidate(ctx context.Context, excludeNoteID string) (*ExternalItem, bool, error) {
	if e.candidates == nil {
		return nil, true, nil
	}
	c, ok, err := e.candidates.RandomCandidate(ctx, excludeNoteID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to pick spark candidate: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// parentsLocked returns the sources of every edge pointing at id, in
// store order.
func (e *Engine) parentsLocked(id string) []models.CanvasNode {
	sources := map[string]bool{}
	for _, edge := range e.store.Edges() {
		if edge.Target == id {
			sources[edge.Source] = true
		}
	}
	var parents []models.CanvasNode
	for _, n := range e.store.Nodes() {
		if sources[n.ID] {
			parents = append(parents, n)
		}
	}
	return parents
}

func (e *Engine) generate(job synthesisJob) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, e.generationTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "canvas.synthesis", trace.WithAttributes(
		attribute.String("operator", string(job.op.kind)),
		attribute.String("node.id", job.nodeID),
		attribute.Bool("regenerate", job.regenerate),
		attribute.Int("inputs", len(job.inputs)),
	))
	defer span.End()
	start := e.now()

	prompt, candidateTitle, err := buildPrompt(job)
	var gen Generation
	if err == nil {
		gen, err = e.generator.Generate(ctx, prompt)
	}
	elapsed := e.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.recorder.SynthesisFinished(string(job.op.kind), OutcomeFailure, elapsed)
		e.rollback(job, err)
		return
	}
	e.complete(job, job.op.finish(gen, candidateTitle), elapsed)
}

func buildPrompt(job synthesisJob) (string, string, error) {
	switch job.op.kind {
	case OperatorCollider:
		if job.regenerate {
			return colliderRegeneratePrompt(job.inputs, job.previous), "", nil
		}
		return colliderPrompt(job.inputs), "", nil
	case OperatorAlchemy:
		if job.regenerate {
			return alchemyRegeneratePrompt(job.inputs), "", nil
		}
		return alchemyPrompt(job.inputs), "", nil
	case OperatorSpark:
		if job.candidate == nil {
			return sparkPrompt(job.inputs[0], nil), "", nil
		}
		return sparkPrompt(job.inputs[0], job.candidate), job.candidate.Title, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownOperator, job.op.kind)
}

// complete writes a generation into its node, resolving the node by id
// against the current store. The result is stale when the node is gone or
// the document was switched since launch.
func (e *Engine) complete(job synthesisJob, gen Generation, elapsed time.Duration) {
	var note *LibraryNote
	_ = e.update(func() error {
		if e.staleLocked(job) {
			e.logger.Debug("discarding stale synthesis result",
				zap.String("node_id", job.nodeID), zap.String("operator", string(job.op.kind)))
			e.recorder.SynthesisFinished(string(job.op.kind), OutcomeDiscarded, elapsed)
			e.emit(Event{Kind: EventSynthesisDiscarded, NodeID: job.nodeID, Operator: job.op.kind})
			return nil
		}

		entry := models.SynthesisEntry{Title: gen.Title, Content: gen.Content, Timestamp: e.now()}
		_ = e.store.UpdateNode(job.nodeID, func(n *models.CanvasNode) {
			n.Title = gen.Title
			n.Content = gen.Content
			n.SynthesisHistory = append(n.SynthesisHistory, entry)
			n.HistoryIndex = len(n.SynthesisHistory) - 1
			n.IsThinking = false
		})
		e.commit()
		e.recorder.SynthesisFinished(string(job.op.kind), OutcomeSuccess, elapsed)
		e.emit(Event{Kind: EventSynthesisCompleted, NodeID: job.nodeID, Operator: job.op.kind})

		sources := make([]string, 0, len(job.inputs))
		for _, in := range job.inputs {
			if in.NoteID != "" {
				sources = append(sources, in.NoteID)
			}
		}
		note = &LibraryNote{
			ID:            job.nodeID,
			Kind:          job.op.libraryKind,
			Title:         gen.Title,
			Content:       gen.Content,
			SourceNoteIDs: sources,
		}
		return nil
	})

	if note != nil && e.library != nil {
		e.library.Publish(e.ctx, *note)
	}
}

// staleLocked reports whether a finished job no longer owns its node: the
// document was switched since launch or the placeholder is gone. A live job
// is released from the in-flight set.
func (e *Engine) staleLocked(job synthesisJob) bool {
	if job.activation != e.activation {
		return true
	}
	delete(e.inflight, job.nodeID)
	_, ok := e.store.Node(job.nodeID)
	return !ok
}

// rollback undoes a failed generation. A new placeholder is removed with
// its provenance edges; a regenerated node gets its previous title back.
// No history entry is pushed either way.
func (e *Engine) rollback(job synthesisJob, cause error) {
	_ = e.update(func() error {
		e.logger.Warn("synthesis failed",
			zap.String("node_id", job.nodeID),
			zap.String("operator", string(job.op.kind)),
			zap.Error(cause))

		if e.staleLocked(job) {
			return nil
		}
		if job.regenerate {
			_ = e.store.UpdateNode(job.nodeID, func(n *models.CanvasNode) {
				n.IsThinking = false
				n.Title = job.previousTitle
			})
		} else {
			e.store.RemoveNode(job.nodeID)
			delete(e.selection, job.nodeID)
		}
		e.persist(e.store.Snapshot())
		e.changed()
		e.emit(Event{Kind: EventSynthesisFailed, NodeID: job.nodeID, Operator: job.op.kind, Error: cause.Error()})
		return nil
	})
}

// NavigateSynthesis moves a derived node's history cursor by step and shows
// that version. It never calls the generator and never pushes history.
func (e *Engine) NavigateSynthesis(nodeID string, step int) error {
	return e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		node, ok := e.store.Node(nodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		if node.IsThinking || len(node.SynthesisHistory) == 0 {
			return nil
		}
		idx := node.HistoryIndex + step
		if idx < 0 {
			idx = 0
		}
		if idx > len(node.SynthesisHistory)-1 {
			idx = len(node.SynthesisHistory) - 1
		}
		if idx == node.HistoryIndex {
			return nil
		}
		_ = e.store.UpdateNode(nodeID, func(n *models.CanvasNode) {
			v := n.SynthesisHistory[idx]
			n.Title, n.Content = v.Title, v.Content
			n.HistoryIndex = idx
		})
		e.persist(e.store.Snapshot())
		e.changed()
		return nil
	})
}

// runLogicScan attaches a critique to the single selected node. A critique
// is fetched at most once; afterwards the scan only toggles its display.
func (e *Engine) runLogicScan() (string, error) {
	var target models.CanvasNode
	var activation uint64
	start := false
	err := e.update(func() error {
		if err := e.requireActive(); err != nil {
			return err
		}
		inputs := e.selectedNodesLocked()
		if len(inputs) != 1 {
			return nil
		}
		target = inputs[0]
		if target.Critique != nil {
			e.critiqueVisible[target.ID] = !e.critiqueVisible[target.ID]
			e.changed()
			return nil
		}
		if e.scanning[target.ID] || e.critic == nil {
			return nil
		}
		e.scanning[target.ID] = true
		activation = e.activation
		e.changed()
		e.emit(Event{Kind: EventSynthesisStarted, NodeID: target.ID, Operator: OperatorLogicScan})
		start = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if start {
		e.wg.Add(1)
		go e.scan(target, activation)
	}
	return target.ID, nil
}

func (e *Engine) scan(node models.CanvasNode, activation uint64) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, e.generationTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "canvas.logic_scan", trace.WithAttributes(
		attribute.String("node.id", node.ID),
	))
	defer span.End()
	start := e.now()

	text := strings.TrimSpace(node.Title + "\n\n" + node.Content)
	critique, err := e.critic.Critique(ctx, text)
	if err == nil && critique == nil {
		err = errors.New("critic returned no result")
	}
	elapsed := e.now().Sub(start)

	_ = e.update(func() error {
		if activation != e.activation {
			e.recorder.SynthesisFinished(string(OperatorLogicScan), OutcomeDiscarded, elapsed)
			e.emit(Event{Kind: EventSynthesisDiscarded, NodeID: node.ID, Operator: OperatorLogicScan})
			return nil
		}
		delete(e.scanning, node.ID)
		e.changed()
		if err != nil {
			span.RecordError(err)
			e.logger.Warn("logic scan failed", zap.String("node_id", node.ID), zap.Error(err))
			e.recorder.SynthesisFinished(string(OperatorLogicScan), OutcomeFailure, elapsed)
			e.emit(Event{Kind: EventSynthesisFailed, NodeID: node.ID, Operator: OperatorLogicScan, Error: err.Error()})
			return nil
		}
		current, ok := e.store.Node(node.ID)
		if !ok || current.Critique != nil {
			e.recorder.SynthesisFinished(string(OperatorLogicScan), OutcomeDiscarded, elapsed)
			e.emit(Event{Kind: EventSynthesisDiscarded, NodeID: node.ID, Operator: OperatorLogicScan})
			return nil
		}
		_ = e.store.UpdateNode(node.ID, func(n *models.CanvasNode) {
			n.Critique = critique
		})
		e.critiqueVisible[node.ID] = true
		e.commit()
		e.recorder.SynthesisFinished(string(OperatorLogicScan), OutcomeSuccess, elapsed)
		e.emit(Event{Kind: EventCritiqueReady, NodeID: node.ID, Operator: OperatorLogicScan})
		return nil
	})
}
