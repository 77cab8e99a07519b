package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"kno-canvas/internal/models"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
)

var validate = validator.New()

type CommandType string

const (
	CmdPan               CommandType = "PAN"
	CmdZoomAt            CommandType = "ZOOM_AT"
	CmdWheel             CommandType = "WHEEL"
	CmdPinchStart        CommandType = "PINCH_START"
	CmdPinchUpdate       CommandType = "PINCH_UPDATE"
	CmdPinchEnd          CommandType = "PINCH_END"
	CmdPointerDown       CommandType = "POINTER_DOWN"
	CmdPointerMove       CommandType = "POINTER_MOVE"
	CmdPointerUp         CommandType = "POINTER_UP"
	CmdSelect            CommandType = "SELECT"
	CmdClearSelection    CommandType = "CLEAR_SELECTION"
	CmdDeleteSelection   CommandType = "DELETE_SELECTION"
	CmdDeleteNode        CommandType = "DELETE_NODE"
	CmdRestoreNode       CommandType = "RESTORE_NODE"
	CmdAddNote           CommandType = "ADD_NOTE"
	CmdDoubleClick       CommandType = "DOUBLE_CLICK"
	CmdBeginEdit         CommandType = "BEGIN_EDIT"
	CmdUpdateDraft       CommandType = "UPDATE_DRAFT"
	CmdCommitEdit        CommandType = "COMMIT_EDIT"
	CmdCancelEdit        CommandType = "CANCEL_EDIT"
	CmdRunOperator       CommandType = "RUN_OPERATOR"
	CmdRegenerate        CommandType = "REGENERATE"
	CmdNavigateSynthesis CommandType = "NAVIGATE_SYNTHESIS"
	CmdUndo              CommandType = "UNDO"
	CmdRedo              CommandType = "REDO"
	CmdDrop              CommandType = "DROP"
	CmdInject            CommandType = "INJECT"
	CmdAutoArrange       CommandType = "AUTO_ARRANGE"
	CmdSetTool           CommandType = "SET_TOOL"
)

// Command is an instruction a UI sends to the engine.
type Command interface {
	Type() CommandType
}

type PanCommand struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type ZoomAtCommand struct {
	Anchor models.Point `json:"anchor"`
	Ratio  float64      `json:"ratio" validate:"gt=0"`
}

type WheelCommand struct {
	WheelInput
}

type PinchStartCommand struct{}

type PinchUpdateCommand struct {
	Anchor models.Point `json:"anchor"`
	Scale  float64      `json:"scale" validate:"gt=0"`
}

type PinchEndCommand struct{}

type PointerDownCommand struct {
	PointerEvent
}

type PointerMoveCommand struct {
	PointerEvent
}

type PointerUpCommand struct {
	PointerEvent
}

type SelectCommand struct {
	NodeIDs  []string `json:"node_ids" validate:"dive,required"`
	Additive bool     `json:"additive"`
}

type ClearSelectionCommand struct{}

type DeleteSelectionCommand struct {
	TextFocused bool `json:"text_focused"`
}

type DeleteNodeCommand struct {
	NodeID string `json:"node_id" validate:"required"`
}

type RestoreNodeCommand struct {
	NodeID string `json:"node_id" validate:"required"`
}

type AddNoteCommand struct {
	ScreenWidth  float64 `json:"screen_width" validate:"gte=0"`
	ScreenHeight float64 `json:"screen_height" validate:"gte=0"`
}

type DoubleClickCommand struct {
	NodeID string `json:"node_id" validate:"required"`
}

type BeginEditCommand struct {
	NodeID string `json:"node_id" validate:"required"`
}

type UpdateDraftCommand struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CommitEditCommand struct{}

type CancelEditCommand struct{}

type RunOperatorCommand struct {
	Operator OperatorKind `json:"operator" validate:"required,oneof=collider alchemy spark logic_scan"`
}

type RegenerateCommand struct {
	NodeID string `json:"node_id" validate:"required"`
}

type NavigateSynthesisCommand struct {
	NodeID    string `json:"node_id" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=prev next"`
}

type UndoCommand struct{}

type RedoCommand struct{}

type DropCommand struct {
	Payload DragPayload `json:"payload"`
	ScreenX float64     `json:"screen_x"`
	ScreenY float64     `json:"screen_y"`
}

type InjectCommand struct {
	Nodes    []models.CanvasNode `json:"nodes" validate:"required,min=1"`
	ParentID string              `json:"parent_id"`
	EdgeType models.EdgeType     `json:"edge_type" validate:"omitempty,oneof=reference spark conflict synthesis neural"`
}

type AutoArrangeCommand struct{}

type SetToolCommand struct {
	Tool Tool `json:"tool" validate:"required,oneof=select pan"`
}

func (*PanCommand) Type() CommandType               { return CmdPan }
func (*ZoomAtCommand) Type() CommandType            { return CmdZoomAt }
func (*WheelCommand) Type() CommandType             { return CmdWheel }
func (*PinchStartCommand) Type() CommandType        { return CmdPinchStart }
func (*PinchUpdateCommand) Type() CommandType       { return CmdPinchUpdate }
func (*PinchEndCommand) Type() CommandType          { return CmdPinchEnd }
func (*PointerDownCommand) Type() CommandType       { return CmdPointerDown }
func (*PointerMoveCommand) Type() CommandType       { return CmdPointerMove }
func (*PointerUpCommand) Type() CommandType         { return CmdPointerUp }
func (*SelectCommand) Type() CommandType            { return CmdSelect }
func (*ClearSelectionCommand) Type() CommandType    { return CmdClearSelection }
func (*DeleteSelectionCommand) Type() CommandType   { return CmdDeleteSelection }
func (*DeleteNodeCommand) Type() CommandType        { return CmdDeleteNode }
func (*RestoreNodeCommand) Type() CommandType       { return CmdRestoreNode }
func (*AddNoteCommand) Type() CommandType           { return CmdAddNote }
func (*DoubleClickCommand) Type() CommandType       { return CmdDoubleClick }
func (*BeginEditCommand) Type() CommandType         { return CmdBeginEdit }
func (*UpdateDraftCommand) Type() CommandType       { return CmdUpdateDraft }
func (*CommitEditCommand) Type() CommandType        { return CmdCommitEdit }
func (*CancelEditCommand) Type() CommandType        { return CmdCancelEdit }
func (*RunOperatorCommand) Type() CommandType       { return CmdRunOperator }
func (*RegenerateCommand) Type() CommandType        { return CmdRegenerate }
func (*NavigateSynthesisCommand) Type() CommandType { return CmdNavigateSynthesis }
func (*UndoCommand) Type() CommandType              { return CmdUndo }
func (*RedoCommand) Type() CommandType              { return CmdRedo }
func (*DropCommand) Type() CommandType              { return CmdDrop }
func (*InjectCommand) Type() CommandType            { return CmdInject }
func (*AutoArrangeCommand) Type() CommandType       { return CmdAutoArrange }
func (*SetToolCommand) Type() CommandType           { return CmdSetTool }

var commandFactories = map[CommandType]func() Command{
	CmdPan:               func() Command { return &PanCommand{} },
	CmdZoomAt:            func() Command { return &ZoomAtCommand{} },
	CmdWheel:             func() Command { return &WheelCommand{} },
	CmdPinchStart:        func() Command { return &PinchStartCommand{} },
	CmdPinchUpdate:       func() Command { return &PinchUpdateCommand{} },
	CmdPinchEnd:          func() Command { return &PinchEndCommand{} },
	CmdPointerDown:       func() Command { return &PointerDownCommand{} },
	CmdPointerMove:       func() Command { return &PointerMoveCommand{} },
	CmdPointerUp:         func() Command { return &PointerUpCommand{} },
	CmdSelect:            func() Command { return &SelectCommand{} },
	CmdClearSelection:    func() Command { return &ClearSelectionCommand{} },
	CmdDeleteSelection:   func() Command { return &DeleteSelectionCommand{} },
	CmdDeleteNode:        func() Command { return &DeleteNodeCommand{} },
	CmdRestoreNode:       func() Command { return &RestoreNodeCommand{} },
	CmdAddNote:           func() Command { return &AddNoteCommand{} },
	CmdDoubleClick:       func() Command { return &DoubleClickCommand{} },
	CmdBeginEdit:         func() Command { return &BeginEditCommand{} },
	CmdUpdateDraft:       func() Command { return &UpdateDraftCommand{} },
	CmdCommitEdit:        func() Command { return &CommitEditCommand{} },
	CmdCancelEdit:        func() Command { return &CancelEditCommand{} },
	CmdRunOperator:       func() Command { return &RunOperatorCommand{} },
	CmdRegenerate:        func() Command { return &RegenerateCommand{} },
	CmdNavigateSynthesis: func() Command { return &NavigateSynthesisCommand{} },
	CmdUndo:              func() Command { return &UndoCommand{} },
	CmdRedo:              func() Command { return &RedoCommand{} },
	CmdDrop:              func() Command { return &DropCommand{} },
	CmdInject:            func() Command { return &InjectCommand{} },
	CmdAutoArrange:       func() Command { return &AutoArrangeCommand{} },
	CmdSetTool:           func() Command { return &SetToolCommand{} },
}

// Envelope is the wire form of a command.
type Envelope struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeCommand parses and validates an envelope.
func DecodeCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	factory, ok := commandFactories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	cmd := factory()
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, cmd); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, env.Type, err)
		}
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, env.Type, err)
	}
	return cmd, nil
}

// Dispatch routes a command to the engine operation it names.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case *PanCommand:
		return e.Pan(c.DX, c.DY)
	case *ZoomAtCommand:
		return e.ZoomAt(c.Anchor, c.Ratio)
	case *WheelCommand:
		return e.Wheel(c.WheelInput)
	case *PinchStartCommand:
		return e.PinchStart()
	case *PinchUpdateCommand:
		return e.PinchUpdate(c.Anchor, c.Scale)
	case *PinchEndCommand:
		return e.PinchEnd()
	case *PointerDownCommand:
		return e.PointerDown(c.PointerEvent)
	case *PointerMoveCommand:
		return e.PointerMove(c.PointerEvent)
	case *PointerUpCommand:
		return e.PointerUp(c.PointerEvent)
	case *SelectCommand:
		return e.Select(c.NodeIDs, c.Additive)
	case *ClearSelectionCommand:
		return e.ClearSelection()
	case *DeleteSelectionCommand:
		return e.DeleteSelection(c.TextFocused)
	case *DeleteNodeCommand:
		return e.DeleteNode(c.NodeID)
	case *RestoreNodeCommand:
		return e.RestoreDeleted(c.NodeID)
	case *AddNoteCommand:
		_, err := e.AddNote(c.ScreenWidth, c.ScreenHeight)
		return err
	case *DoubleClickCommand:
		return e.DoubleClick(c.NodeID)
	case *BeginEditCommand:
		return e.BeginEdit(c.NodeID)
	case *UpdateDraftCommand:
		return e.UpdateDraft(c.Title, c.Content)
	case *CommitEditCommand:
		return e.CommitEdit()
	case *CancelEditCommand:
		return e.CancelEdit()
	case *RunOperatorCommand:
		_, err := e.RunOperator(ctx, c.Operator)
		return err
	case *RegenerateCommand:
		return e.Regenerate(ctx, c.NodeID)
	case *NavigateSynthesisCommand:
		step := 1
		if c.Direction == "prev" {
			step = -1
		}
		return e.NavigateSynthesis(c.NodeID, step)
	case *UndoCommand:
		return e.Undo()
	case *RedoCommand:
		return e.Redo()
	case *DropCommand:
		_, err := e.Drop(ctx, c.Payload, models.Point{X: c.ScreenX, Y: c.ScreenY})
		return err
	case *InjectCommand:
		_, err := e.Inject(c.Nodes, c.ParentID, c.EdgeType)
		return err
	case *AutoArrangeCommand:
		return e.AutoArrange()
	case *SetToolCommand:
		return e.SetTool(c.Tool)
	case nil:
		return fmt.Errorf("%w: nil command", ErrUnknownCommand)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}
