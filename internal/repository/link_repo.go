package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kno-canvas/internal/models"
)

/*
LEARNING: LIBRARY LINK REPOSITORY

Links connect library notes. Two kinds exist:
- reference: a [[note-id]] written inside a note's content
- provenance: an input note of a derived insight

Operations:
- UpsertLink: add a connection, ignoring duplicates
- GetOutgoingLinks / GetIncomingLinks: neighbours of one note
- GetGraphNode: link counts plus connected ids
*/

// LinkRepositoryImpl handles library link operations
type LinkRepositoryImpl struct {
	db *gorm.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *gorm.DB) *LinkRepositoryImpl {
	return &LinkRepositoryImpl{db: db}
}

// UpsertLink creates a link unless the same source and target are already linked.
func (r *LinkRepositoryImpl) UpsertLink(ctx context.Context, sourceID, targetID, linkType string) error {
	link := &models.Link{
		SourceID: sourceID,
		TargetID: targetID,
		LinkType: linkType,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_id"}, {Name: "target_id"}},
			DoNothing: true,
		}).
		Create(link).Error
	if err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// DeleteLink removes a link between notes
func (r *LinkRepositoryImpl) DeleteLink(ctx context.Context, sourceID, targetID string) error {
	result := r.db.WithContext(ctx).
		Where("source_id = ? AND target_id = ?", sourceID, targetID).
		Delete(&models.Link{})

	if result.Error != nil {
		return fmt.Errorf("failed to delete link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: link %s -> %s", ErrNotFound, sourceID, targetID)
	}
	return nil
}

// GetOutgoingLinks gets all links leaving sourceID
func (r *LinkRepositoryImpl) GetOutgoingLinks(ctx context.Context, sourceID string) ([]*models.Link, error) {
	var links []*models.Link
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get outgoing links: %w", err)
	}
	return links, nil
}

// GetIncomingLinks gets all links pointing at targetID (backlinks)
func (r *LinkRepositoryImpl) GetIncomingLinks(ctx context.Context, targetID string) ([]*models.Link, error) {
	var links []*models.Link
	err := r.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get incoming links: %w", err)
	}
	return links, nil
}

// GetGraphNode gets graph information for a specific note
func (r *LinkRepositoryImpl) GetGraphNode(ctx context.Context, noteID string) (*models.GraphNode, error) {
	var note models.Note
	if err := r.db.WithContext(ctx).
		Select("id, title").
		First(&note, "id = ?", noteID).Error; err != nil {
		return nil, fmt.Errorf("%w: note %s", ErrNotFound, noteID)
	}

	outgoing, err := r.GetOutgoingLinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	incoming, err := r.GetIncomingLinks(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return buildGraphNode(note.ID, note.Title, outgoing, incoming), nil
}

func buildGraphNode(id, title string, outgoing, incoming []*models.Link) *models.GraphNode {
	connected := make([]string, 0, len(outgoing)+len(incoming))
	for _, link := range outgoing {
		connected = append(connected, link.TargetID)
	}
	for _, link := range incoming {
		connected = append(connected, link.SourceID)
	}
	return &models.GraphNode{
		ID:             id,
		Title:          title,
		OutgoingLinks:  len(outgoing),
		IncomingLinks:  len(incoming),
		ConnectedNodes: connected,
	}
}

var referencePattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ReferencedNoteIDs returns the distinct [[note-id]] references in content,
// in order of first appearance.
func ReferencedNoteIDs(content string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, m := range referencePattern.FindAllStringSubmatch(content, -1) {
		id := strings.TrimSpace(m[1])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
